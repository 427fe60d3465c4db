package middleware

import (
	"net/http"
)

type CorsMiddleware struct {
	allowOrigin string
}

func (cm *CorsMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", cm.allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")

		// プリフライトはここで返す
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewCorsMiddleware(allowOrigin string) *CorsMiddleware {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return &CorsMiddleware{
		allowOrigin: allowOrigin,
	}
}
