package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"relaydesk/internal/config"
	"relaydesk/internal/models"
	"relaydesk/internal/transport"
	"relaydesk/internal/ws"
)

// probe prints every event of the session stream as one JSON line.
func main() {
	token := flag.String("token", "", "Session token (defaults to SYNC_TOKEN)")
	events := flag.String("events", "", "Comma separated event names to print (default: all)")
	flag.Parse()

	cfg, err := config.Load(true)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *token != "" {
		cfg.Token = *token
	}
	if cfg.Token == "" {
		fmt.Println("Usage: probe -token <token> [-events new-message,contact-changed]")
		os.Exit(1)
	}

	names := models.EventNames
	if *events != "" {
		names = nil
		for _, n := range strings.Split(*events, ",") {
			names = append(names, models.EventName(strings.TrimSpace(n)))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager := ws.NewManager(ws.Config{
		NewStream: ws.TransportFactory(cfg.SyncURL, &transport.Settings{
			MaxAttempts:      cfg.ReconnectAttempts,
			MinDelay:         cfg.ReconnectMinDelay,
			MaxDelay:         cfg.ReconnectMaxDelay,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}),
		TeardownDelay: cfg.TeardownDelay,
	})
	defer func() { _ = manager.Close() }()

	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	handlers := ws.NewHandlers()
	for _, name := range names {
		handlers.Set(name, func(data json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(struct {
				At    time.Time        `json:"at"`
				Event models.EventName `json:"event"`
				Data  json.RawMessage  `json:"data,omitempty"`
			}{time.Now(), name, data})
		})
	}

	sub, err := manager.Acquire(cfg.Token, handlers)
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	defer manager.Release(sub)

	<-ctx.Done()
	log.Println("Shutting down...")
}
