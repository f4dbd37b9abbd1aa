package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"present-this/internal/backend"
	"present-this/internal/config"
	"present-this/internal/room"
	"present-this/internal/session"
	"present-this/internal/web"
)

// RoomConnector dials the realtime room with a freshly issued credential.
type RoomConnector func(ctx context.Context, cred backend.Credential, opts room.Options) (room.Room, error)

type Server struct {
	cfg     config.Config
	store   *session.Store
	backend *backend.Client
	ws      *sessionHub
	connect RoomConnector

	uploadMu  sync.Mutex
	uploadSeq int
	upload    web.UploadState
}

func New(cfg config.Config) *Server {
	s := &Server{
		cfg:   cfg,
		store: session.NewStore(),
		backend: backend.NewClient(
			cfg.BackendBaseURL,
			time.Duration(cfg.UploadTimeoutSeconds)*time.Second,
			time.Duration(cfg.FetchTimeoutSeconds)*time.Second,
		),
		ws:     newSessionHub(),
		upload: web.UploadState{Phase: "idle"},
	}
	s.connect = s.dialRoom
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleHome)
	mux.HandleFunc("GET /ws/session", s.handleSessionWebsocket)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	mux.Handle("/api/", s.apiRouter())
	return mux
}

func (s *Server) dialRoom(ctx context.Context, cred backend.Credential, opts room.Options) (room.Room, error) {
	return room.Connect(ctx, cred.URL, cred.Token, opts)
}
