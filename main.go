package main

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/incognito-party/incognito/internal/challenge"
	"github.com/incognito-party/incognito/internal/config"
	"github.com/incognito-party/incognito/internal/relay"
	"github.com/incognito-party/incognito/internal/store"
)

func main() {
	// A missing .env is fine; the environment may be set directly
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	pool, err := challenge.LoadPool(filepath.Join(cfg.DataDir, "challenges.json"))
	if err != nil {
		log.Fatal("Failed to load data:", err)
	}
	log.Printf("Loaded %d challenges", len(pool))

	mem := store.NewMemory()
	hub := relay.NewHub(mem)
	go hub.RunSweeper(context.Background(), cfg.SweepInterval, cfg.PresenceTTL)

	// Routes
	http.Handle("/sync", hub)
	http.HandleFunc("/qr/", handleQR(cfg.PublicURL))
	http.HandleFunc("/health", handleHealth)

	log.Printf("Relay starting on http://localhost%s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, nil))
}

// handleQR serves a PNG QR code encoding the join link for a mission,
// shown on the host's lobby screen for other agents to scan.
func handleQR(publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/qr/"))
		if code == "" || strings.Contains(code, "/") {
			http.Error(w, "Invalid mission code", http.StatusBadRequest)
			return
		}
		png, err := qrcode.Encode(publicURL+"/join/"+code, qrcode.Medium, 256)
		if err != nil {
			http.Error(w, "Failed to encode QR", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}
