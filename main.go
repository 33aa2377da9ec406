package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"taskboard/database"
	"taskboard/handlers"
	"taskboard/services"
)

func main() {
	// Load environment variables from .env file, if present
	if err := services.LoadEnv(".env"); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./taskboard.db"
	}
	db, err := database.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "your-default-secret-key-change-in-production"
	}
	tokenTTL := time.Hour
	if val := os.Getenv("TOKEN_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			log.Fatalf("Invalid TOKEN_TTL: %v", err)
		}
		tokenTTL = ttl
	}

	// Initialize stores and services
	projects := database.NewProjectStore(db)
	users := database.NewUserStore(db)
	authService := services.NewAuthService(users, jwtSecret, tokenTTL)

	// The relay is the single per-process pub/sub instance; handlers get it
	// injected rather than reaching for a global.
	relay := services.NewRelay()

	// Setup router
	r := mux.NewRouter()
	handlers.Register(r, authService, projects, relay)

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // In production, change to your domain
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Server starting on port %s", port)
	log.Fatal(server.ListenAndServe())
}
