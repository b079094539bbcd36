package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/duochat/duochat/internal/chatlog"
	"github.com/duochat/duochat/internal/config"
	"github.com/duochat/duochat/internal/database"
	"github.com/duochat/duochat/internal/presence"
	"github.com/duochat/duochat/internal/server"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
)

type App struct {
	log            *log.Logger
	db             database.Repository
	chatLog        chatlog.Log
	presence       *presence.Registry
	cs             *server.ChatServer
	srv            *http.Server
	sid            *shortid.Shortid
	signingKey     []byte
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.Repository,
	chatLog chatlog.Log, reg *presence.Registry, cfg *config.Config) (*App, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		return nil, fmt.Errorf("shortid: %w", err)
	}

	s := &App{
		log:            logger,
		db:             db,
		chatLog:        chatLog,
		presence:       reg,
		cs:             cs,
		sid:            sid,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/users", s.authMiddleware(s.getOnlineUsers))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthz)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s, nil
}

func (s *App) generateShortId() (string, error) {
	return s.sid.Generate()
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
