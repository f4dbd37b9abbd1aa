package main

import (
	"log"
	"net/http"

	"present-this/internal/config"
	"present-this/internal/server"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()

	srv := server.New(cfg)
	log.Printf("present-this listening on %s backend=%s", cfg.ListenAddr, cfg.BackendBaseURL)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}
