package routes

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"classicboard/app/auth"
	"classicboard/app/controllers"
	"classicboard/app/middleware"
	"classicboard/app/repositories"
	"classicboard/app/services"

	"github.com/gorilla/mux"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Posts  repositories.PostRepository
	Auth   *auth.Service
	Feed   services.FeedOptions
	Logger *slog.Logger
}

// SetupRoutes defines the application's routes and returns a router.
func SetupRoutes(deps Deps) *mux.Router {
	router := mux.NewRouter()

	// Apply global middleware
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recoverer(deps.Logger))

	feedController := controllers.NewFeedController(deps.Posts, deps.Feed, deps.Logger)
	authController := controllers.NewAuthController(deps.Auth, deps.Logger)

	// API routes
	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.Auth(deps.Auth, deps.Logger))

	// Auth API endpoints
	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/signup", authController.SignUp).Methods("POST")
	authRoutes.HandleFunc("/login", authController.Login).Methods("POST")
	authRoutes.HandleFunc("/logout", authController.Logout).Methods("POST")
	authRoutes.HandleFunc("/me", authController.Me).Methods("GET")

	// Posts API endpoints
	posts := api.PathPrefix("/posts").Subrouter()
	posts.HandleFunc("", feedController.Index).Methods("GET")
	posts.HandleFunc("/stream", feedController.Stream).Methods("GET")
	posts.HandleFunc("", feedController.Create).Methods("POST")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Not found"})
	})

	return router
}
