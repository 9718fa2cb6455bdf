package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/driftlab/driftmsg/internal/server/handlers"
	"github.com/driftlab/driftmsg/internal/server/ratelimit"
	"github.com/driftlab/driftmsg/internal/server/storage"
	"github.com/driftlab/driftmsg/internal/server/ws"
)

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	godotenv.Load()

	store := storage.New()
	defer store.Close()

	hub := ws.NewHub()
	go hub.Run()

	limiter := ratelimit.New(
		envInt("MAX_CONNECTIONS_PER_IP", 10),
		envInt("AUTH_ATTEMPTS_PER_MIN", 5),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3567"
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "uploads"
	}

	srv := &handlers.Server{
		Store:     store,
		Hub:       hub,
		Limiter:   limiter,
		Tokens:    handlers.NewTokenRegistry(),
		UploadDir: uploadDir,
		BaseURL:   baseURL,
	}

	mux := http.NewServeMux()
	srv.Routes(mux)

	log.Printf("Server starting on :%s", port)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%s", port), mux))
}
