package server

import (
	"net/http"

	"present-this/internal/web"

	"github.com/a-h/templ"
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.store.Active(); ok {
		templ.Handler(web.Session(s.displayState())).ServeHTTP(w, r)
		return
	}
	templ.Handler(web.Home(s.uploadSnapshot())).ServeHTTP(w, r)
}
