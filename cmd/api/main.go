// cmd/api/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MereWhiplash/gitmem/internal/api"
	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/embedder"
	"github.com/MereWhiplash/gitmem/internal/index"
)

func main() {
	// Server flags
	addr := flag.String("addr", ":8080", "Server address")

	// Index flags
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")

	// Embedder flags
	ollamaURL := flag.String("ollama-url", "", "Ollama API URL")
	embeddingModel := flag.String("embedding-model", "", "Ollama embedding model")

	// Migrate flag
	migrateOnly := flag.Bool("migrate", false, "Run migrations and exit")

	// Rate limiting flags
	rateLimit := flag.Int("rate-limit", 100, "Requests per minute per IP (0 to disable)")

	// CORS flags
	corsOrigins := flag.String("cors-origins", "", "Comma-separated list of allowed CORS origins (empty to disable)")

	flag.Parse()

	ctx := context.Background()

	cfg := config.FromEnv()
	if *postgresDSN != "" {
		cfg.PostgresDSN = *postgresDSN
	}
	if *ollamaURL != "" {
		cfg.OllamaURL = *ollamaURL
	}
	if *embeddingModel != "" {
		cfg.EmbeddingModel = *embeddingModel
	}

	// The API server fronts a shared team index; the per-clone sqlite file
	// never leaves its machine.
	if cfg.PostgresDSN == "" {
		log.Fatal("PostgreSQL DSN required: use --postgres-dsn or GITMEM_POSTGRES_DSN")
	}

	// Initialize index (runs migrations)
	idx, err := index.New(ctx, index.Config{
		Driver:      "postgres",
		PostgresDSN: cfg.PostgresDSN,
		Dim:         cfg.EmbeddingDim,
	})
	if err != nil {
		log.Fatalf("Failed to initialize index: %v", err)
	}
	defer idx.Close()

	// If migrate-only, exit now
	if *migrateOnly {
		log.Println("Migrations complete")
		return
	}

	// Initialize embedder
	emb, err := embedder.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize embedder: %v", err)
	}
	defer emb.Close()

	// Create handlers
	handlers := api.NewHandlers(idx, emb)

	// Set health check to verify index connectivity
	handlers.SetHealthCheck(func() error {
		return idx.Verify(context.Background())
	})

	// Setup router
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(api.RequestID)
	r.Use(api.MaxBodySize)

	// Rate limiting (if enabled)
	if *rateLimit > 0 {
		limiter := api.NewRateLimiter(*rateLimit, time.Minute)
		r.Use(limiter.Middleware)
	}

	// CORS (if enabled)
	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		r.Use(api.CORSMiddleware(origins))
	}

	// Repo identity extraction
	r.Use(api.RepoContext)

	// Routes
	r.Get("/health", handlers.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/memories", handlers.List)
		r.Post("/memories/search", handlers.Search)
		r.Get("/memories/{id}", handlers.Get)
		r.Put("/memories/{id}/status", handlers.UpdateStatus)
		r.Get("/stats", handlers.Stats)
	})

	// Create server
	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}

		close(done)
	}()

	// Start server
	log.Printf("Starting API server on %s", *addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	<-done
	fmt.Println("Server stopped")
}
