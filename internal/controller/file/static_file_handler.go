package controller

import (
	"net/http"
	"strings"
)

// StaticFileHandler serves the built player frontend.
type StaticFileHandler struct {
	fileServer http.Handler
}

func (sfh *StaticFileHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// viteの出力はassets/配下がハッシュ付きファイル名なので長期キャッシュしてよい
	if strings.HasPrefix(r.URL.Path, "/assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}

	sfh.fileServer.ServeHTTP(w, r)
}

func NewStaticFileHandler(rootDir http.FileSystem) *StaticFileHandler {
	fileServer := http.FileServer(rootDir)
	return &StaticFileHandler{fileServer: fileServer}
}
