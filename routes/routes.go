package routes

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/matchpoint-app/matchpoint/handlers"
)

func SetupRoutes(
	router *chi.Mux,
	dbConn *sql.DB,
	authHandler *handlers.AuthHandler,
	playerHandler *handlers.PlayerHandler,
	matchHandler *handlers.MatchHandler,
	emailHandler *handlers.EmailHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbConn.PingContext(ctx); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/delete", authHandler.DeleteAccount)

		r.Route("/players", func(r chi.Router) {
			r.Get("/", playerHandler.List)
			r.Get("/{playerID}", playerHandler.GetProfile)
			r.Put("/{playerID}", playerHandler.UpdateProfile)
			r.Get("/{playerID}/matches", playerHandler.GetMatches)
			r.Post("/{playerID}/avatar", playerHandler.UploadAvatar)
		})

		r.Route("/matches", func(r chi.Router) {
			r.Get("/", matchHandler.List)
			r.Post("/", matchHandler.Create)
			r.Get("/{matchID}", matchHandler.GetByID)
			r.Delete("/{matchID}", matchHandler.Cancel)
			r.Post("/{matchID}/join", matchHandler.Join)
			r.Post("/{matchID}/leave", matchHandler.Leave)
		})

		r.Post("/email/send", emailHandler.Send)
	})

	router.Get("/ws/matches/{matchID}", webSocketHandler.ServeWs)
}
