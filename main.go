package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"relaydesk/internal/api"
	"relaydesk/internal/config"
	"relaydesk/internal/console"
	"relaydesk/internal/content"
	"relaydesk/internal/metrics"
	"relaydesk/internal/park"
	"relaydesk/internal/transport"
	"relaydesk/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const reacquireInterval = 30 * time.Second

// printer writes every confirmed message of the chat view once.
type printer struct {
	out  io.Writer
	chat *console.ChatView

	mu   sync.Mutex
	seen map[string]bool
}

func (p *printer) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chat == nil {
		return
	}
	for _, e := range p.chat.Messages() {
		if e.Key.IsPending() || p.seen[e.Key.ID()] {
			continue
		}
		p.seen[e.Key.ID()] = true
		dir := "<"
		if e.Message.FromMe {
			dir = ">"
		}
		_, _ = fmt.Fprintf(p.out, "%s %s %s\n", e.Message.Timestamp.Local().Format("15:04:05"), dir, content.Line(e.Message.Content))
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("relaydesk", flag.ContinueOnError)
	token := fs.String("token", "", "Session token (defaults to SYNC_TOKEN)")
	instanceID := fs.String("instance", "", "Instance of the conversation to follow")
	contactID := fs.String("contact", "", "Contact of the conversation to follow")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(true)
	if err != nil {
		return err
	}
	if *token != "" {
		cfg.Token = *token
	}
	if cfg.Token == "" {
		return errors.New("session token is required: set SYNC_TOKEN or pass -token")
	}
	if *instanceID == "" || *contactID == "" {
		return errors.New("-instance and -contact are required")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var parker park.Parker = park.NewRing(cfg.ParkLimit)
	if cfg.ParkDB != "" {
		store, err := park.NewBoltStore(cfg.ParkDB, cfg.ParkLimit)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		parker = store
	}

	settings := &transport.Settings{
		MaxAttempts:      cfg.ReconnectAttempts,
		MinDelay:         cfg.ReconnectMinDelay,
		MaxDelay:         cfg.ReconnectMaxDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	manager := ws.NewManager(ws.Config{
		NewStream:     ws.TransportFactory(cfg.SyncURL, settings),
		TeardownDelay: cfg.TeardownDelay,
		Metrics:       m,
	})
	defer func() { _ = manager.Close() }()

	p := &printer{out: stdout, seen: make(map[string]bool)}
	viewCfg := &console.Config{
		Manager:             manager,
		API:                 api.New(cfg.APIURL, cfg.Token),
		Token:               cfg.Token,
		Metrics:             m,
		Parker:              parker,
		HighlightWindow:     cfg.HighlightWindow,
		ContactRefreshDelay: cfg.ContactRefreshDelay,
		GroupsRefreshDelay:  cfg.GroupsRefreshDelay,
		OnChange:            p.flush,
	}

	chat, err := console.NewChatView(viewCfg)
	if err != nil {
		return err
	}
	defer chat.Close()
	p.mu.Lock()
	p.chat = chat
	p.mu.Unlock()

	instances, err := console.NewInstancesView(&console.Config{
		Manager: manager,
		Token:   cfg.Token,
	})
	if err != nil {
		return err
	}
	defer instances.Close()

	if err := chat.Open(ctx, *instanceID, *contactID); err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	// Send every stdin line to the open conversation.
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line := <-lines:
				if strings.TrimSpace(line) == "" {
					continue
				}
				if err := chat.Send(gCtx, line); err != nil {
					slog.Error("send failed", "error", err)
				}
			}
		}
	})

	// Retry a stream that gave up reconnecting.
	g.Go(func() error {
		ticker := time.NewTicker(reacquireInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if manager.Reacquire() {
					slog.Info("stream restarted")
				}
			}
		}
	})

	if metricsServer != nil {
		g.Go(func() error {
			err := metricsServer.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down...")

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Metrics server shutdown error: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
