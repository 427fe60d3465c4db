package infra

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-pkgz/routegroup"

	filecontroller "github.com/Max423423/OnChainRiddle/internal/controller/file"
	"github.com/Max423423/OnChainRiddle/internal/controller/middleware"
	restcontroller "github.com/Max423423/OnChainRiddle/internal/controller/rest"
	rpccontroller "github.com/Max423423/OnChainRiddle/internal/controller/rpc"
)

const StaticPath string = "/app"

func redirectHandlerFunc(path string) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, http.StatusSeeOther)
	})
}

type Router struct {
	router *routegroup.Bundle
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.router.ServeHTTP(w, r)
}

// NewRouter wires the REST routes, the connect service, /metrics and, when
// fileHandler is not nil, the player frontend under /app/.
func NewRouter(
	riddleHandler *restcontroller.RiddleHandler,
	riddleServiceHandler *rpccontroller.RiddleServiceHandler,
	fileHandler *filecontroller.StaticFileHandler,
	metricsHandler http.Handler,
	requestLogMiddleware *middleware.RequestLogMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	corsMiddleware *middleware.CorsMiddleware,
) *Router {
	router := routegroup.New(http.NewServeMux())
	// ルート登録前に追加したものは404を含む全リクエストに掛かり、r.Patternも見える
	router.Use(requestLogMiddleware.Handle, corsMiddleware.Handle)

	router.HandleFunc("GET /health", riddleHandler.Health)
	router.Handle("GET /metrics", metricsHandler)

	apiGroup := router.Mount("/api")
	apiGroup.HandleFunc("GET /health", riddleHandler.Health)
	apiGroup.HandleFunc("GET /status", riddleHandler.Status)
	apiGroup.HandleFunc("GET /riddle-history", riddleHandler.RiddleHistory)
	// 手動トリガーだけレート制限する
	triggerGroup := apiGroup.Group()
	triggerGroup.Use(rateLimitMiddleware.Handle)
	triggerGroup.HandleFunc("POST /generate-riddle", riddleHandler.GenerateRiddle)
	triggerGroup.HandleFunc("POST /handle-winner", riddleHandler.HandleWinner)

	rpcPath, rpcHandler := rpccontroller.NewRiddleServiceHTTPHandler(
		riddleServiceHandler,
		connect.WithInterceptors(requestLogMiddleware),
	)
	router.Handle(rpcPath, rpcHandler)

	if fileHandler != nil {
		router.HandleFunc("GET "+StaticPath, redirectHandlerFunc(StaticPath+"/"))
		router.Handle("GET "+StaticPath+"/", http.StripPrefix(StaticPath, http.HandlerFunc(fileHandler.Handle)))
	}

	// "/"はroutegroupが"/{$}"に書き換えるのでcatch-allにならない
	router.NotFoundHandler(riddleHandler.NotFound)

	return &Router{
		router: router,
	}
}
