package handlers

import (
	"github.com/gorilla/mux"

	"taskboard/database"
	"taskboard/services"
)

// Register wires every route onto the router. Kept out of main so tests can
// stand up the exact production surface.
func Register(r *mux.Router, authService *services.AuthService, projects *database.ProjectStore, relay *services.Relay) {
	authHandler := NewAuthHandler(authService)
	projectHandler := NewProjectHandler(projects, relay)
	wsHandler := NewWSHandler(authService, relay)
	authMiddleware := NewAuthMiddleware(authService)

	// Auth routes
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/logout", authHandler.Logout).Methods("POST")
	r.HandleFunc("/api/auth/verify", authHandler.Verify).Methods("GET")

	// Project routes (protected)
	api := r.PathPrefix("/api/projects").Subrouter()
	api.Use(authMiddleware.Auth)
	api.HandleFunc("", projectHandler.List).Methods("GET")
	api.HandleFunc("", projectHandler.Create).Methods("POST")
	api.HandleFunc("/{id}", projectHandler.Update).Methods("PUT")
	api.HandleFunc("/{id}", projectHandler.Delete).Methods("DELETE")
	api.HandleFunc("/{projectId}/tasks", projectHandler.AddTask).Methods("POST")
	api.HandleFunc("/{projectId}/tasks/{taskId}", projectHandler.UpdateTask).Methods("PUT")
	api.HandleFunc("/{projectId}/tasks/{taskId}", projectHandler.DeleteTask).Methods("DELETE")
	api.HandleFunc("/{projectId}/move-task", projectHandler.MoveTask).Methods("POST")

	// Realtime channel (token authenticated at connect time)
	r.HandleFunc("/api/ws", wsHandler.HandleWebSocket)
}
