package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/qijun/dashchat/backend/internal/handler/chat"
	sessionHandler "github.com/qijun/dashchat/backend/internal/handler/session"
	middlewarePkg "github.com/qijun/dashchat/backend/internal/middleware"
	aiService "github.com/qijun/dashchat/backend/internal/service/ai"
	chatService "github.com/qijun/dashchat/backend/internal/service/chat"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, aiSvc *aiService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		chatHandler.New(chatSvc, aiSvc).RegisterRoutes(api)
		sessionHandler.New(chatSvc).RegisterRoutes(api)
	})

	return r
}
