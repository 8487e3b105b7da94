// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Emberwell Labs

package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/brutella/dnssd"

	"github.com/Emberwell/lanterna/internal/config"
	"github.com/Emberwell/lanterna/pkg/evlink"
	"github.com/Emberwell/lanterna/pkg/transfer"
)

var (
	serveListen  string
	serveRoot    string
	serveVerbose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lanterna agent",
	Long: `Run the host-side EvLink agent.

The agent answers the full file_* protocol over either transport:

  WebSocket (default): an HTTP server with a /ws endpoint for EvLink frames,
                       /metrics for Prometheus and /healthz for liveness.
                       The service is announced on the LAN via mDNS
                       (_evlink._tcp) unless discovery is disabled.

  Serial (--port):     frames are exchanged directly on the serial port.

Settings come from the config file (--config), with defaults matching the
device firmware. Command line flags override the listen address and storage
root.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "Storage root directory (overrides config)")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Log every transfer operation")
}

func loadServeConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()

	if serveListen != "" {
		cfg.Serve.Listen = serveListen
	}
	if serveRoot != "" {
		cfg.Storage.Root = serveRoot
	}
	if portName != "" {
		cfg.Serve.SerialPort = portName
		cfg.Serve.BaudRate = baudRate
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// agent ties one shared session to any number of transports. Dispatch is
// serialized; the protocol is request/reply with a single filesystem session,
// so concurrent clients take turns.
type agent struct {
	cfg     *config.Config
	session *transfer.Session
	metrics *transfer.Metrics

	mu sync.Mutex
}

func newAgent(cfg *config.Config, reg *prometheus.Registry) *agent {
	alloc := transfer.NewAllocator(transfer.AllocatorConfig{
		FixedSize:  cfg.Storage.BufferSize,
		MaxDynamic: cfg.Storage.MaxBufferSize,
		HeapBudget: cfg.Storage.HeapBudget,
	})

	session := transfer.NewSession(transfer.Config{
		Root:       cfg.Storage.Root,
		Filesystem: cfg.Storage.Filesystem,
		QuotaBytes: cfg.Storage.QuotaBytes,
		Alloc:      alloc,
	})

	return &agent{
		cfg:     cfg,
		session: session,
		metrics: transfer.NewMetrics(reg),
	}
}

func (a *agent) newEncoder() *evlink.Encoder {
	enc := evlink.NewEncoder()
	enc.SenderID = a.cfg.Link.SenderID
	enc.ReceiverID = a.cfg.Link.ReceiverID
	enc.SenderGroup = a.cfg.Link.SenderGroup
	enc.ReceiverGroup = a.cfg.Link.ReceiverGroup
	return enc
}

// serveConn runs the dispatch loop for one transport and returns the read
// error that ended it.
func (a *agent) serveConn(conn Connection, label string) error {
	router := evlink.NewRouter(conn, a.newEncoder())
	service := transfer.NewService(a.session, router, a.metrics)
	service.SetVerbose(serveVerbose)
	service.Register()
	router.OnUnhandled(func(name string, _ []byte) {
		if serveVerbose {
			log.Printf("agent: %s: unhandled event %q", label, name)
		}
	})

	decoder := evlink.NewDecoder()
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		for _, ev := range decoder.Feed(buf[:n]) {
			a.mu.Lock()
			router.Dispatch(ev)
			a.mu.Unlock()
		}
	}
}

// serveSerial dispatches on the serial link until it drops or ctx is
// cancelled. A dead link is fatal: with no HTTP listener there is nothing
// left to serve, so the agent exits instead of idling.
func (a *agent) serveSerial(ctx context.Context, conn Connection, label string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.serveConn(conn, label) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("serial link %s: %w", label, err)
	case <-ctx.Done():
		return nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	a := newAgent(cfg, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Serial mode: one connection, no HTTP.
	if cfg.Serve.SerialPort != "" {
		conn, err := OpenSerialConnection(cfg.Serve.SerialPort, cfg.Serve.BaudRate)
		if err != nil {
			return err
		}
		defer conn.Close()

		log.Printf("agent: serving on %s @ %d baud (root %s)",
			cfg.Serve.SerialPort, cfg.Serve.BaudRate, cfg.Storage.Root)
		return a.serveSerial(ctx, conn, cfg.Serve.SerialPort)
	}

	// WebSocket mode.
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if serveVerbose {
		r.Use(middleware.Logger)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Printf("agent: upgrade %s: %v", req.RemoteAddr, err)
			return
		}
		log.Printf("agent: client connected from %s", req.RemoteAddr)
		conn := &WebSocketConnection{conn: ws}
		defer conn.Close()
		if err := a.serveConn(conn, req.RemoteAddr); err != nil {
			log.Printf("agent: %s: closed: %v", req.RemoteAddr, err)
		}
	})

	srv := &http.Server{
		Addr:    cfg.Serve.Listen,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("agent: listening on %s (root %s)", cfg.Serve.Listen, cfg.Storage.Root)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if cfg.Discovery.Enabled {
		go announce(ctx, cfg)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// announce publishes the agent as _evlink._tcp on the LAN.
func announce(ctx context.Context, cfg *config.Config) {
	port := 80
	if i := strings.LastIndex(cfg.Serve.Listen, ":"); i >= 0 {
		if p, err := strconv.Atoi(cfg.Serve.Listen[i+1:]); err == nil {
			port = p
		}
	}

	service, err := dnssd.NewService(dnssd.Config{
		Name: cfg.Discovery.Instance,
		Type: "_evlink._tcp",
		Port: port,
		Text: map[string]string{
			"id":   uuid.NewString(),
			"path": "/ws",
			"fs":   cfg.Storage.Filesystem,
		},
	})
	if err != nil {
		log.Printf("agent: mDNS service: %v", err)
		return
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		log.Printf("agent: mDNS responder: %v", err)
		return
	}
	if _, err := rp.Add(service); err != nil {
		log.Printf("agent: mDNS add: %v", err)
		return
	}

	log.Printf("agent: announcing %q as _evlink._tcp on port %d", cfg.Discovery.Instance, port)
	if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
		log.Printf("agent: mDNS respond: %v", err)
	}
}
