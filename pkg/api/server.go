// Package api serves the execution client's status surface: REST endpoints
// for health, service status and plugins, message intake for the keyed
// store, and a WebSocket stream of pipeline events.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/execclient/pkg/bus"
	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/logger"
	"github.com/sipeed/execclient/pkg/orchestration"
	"github.com/sipeed/execclient/pkg/store"
)

// StatusSource reports the execution client's current status.
type StatusSource interface {
	Status(ctx context.Context) orchestration.Status
}

// Server is the HTTP status server.
type Server struct {
	cfg        config.GatewayConfig
	status     StatusSource
	store      store.Store
	messageBus *bus.MessageBus
	wsHub      *WSHub
	bridge     *EventBridge
	startTime  time.Time

	// ledgerPrimary is set when the ledger is the active message source;
	// the store is then only read when the ledger is unavailable.
	ledgerPrimary bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLedgerPrimary marks the ledger as the active message source, which
// makes message intake refuse new messages.
func WithLedgerPrimary() ServerOption {
	return func(s *Server) { s.ledgerPrimary = true }
}

// NewServer creates a status server. st may be nil, in which case message
// intake is unavailable.
func NewServer(cfg config.GatewayConfig, status StatusSource, st store.Store, msgBus *bus.MessageBus, opts ...ServerOption) *Server {
	// Random key per session when none is configured, printed once at startup.
	if cfg.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.APIKey = hex.EncodeToString(raw)
			fmt.Println()
			fmt.Println("╔══════════════════════════════════════════════════════╗")
			fmt.Println("║        EXECCLIENT API KEY (session token)            ║")
			fmt.Printf("║  %-52s  ║\n", cfg.APIKey)
			fmt.Println("║  Set gateway.api_key in the config file to make      ║")
			fmt.Println("║  this permanent. Rotate it any time.                 ║")
			fmt.Println("╚══════════════════════════════════════════════════════╝")
			fmt.Println()
		}
	}
	s := &Server{
		cfg:        cfg,
		status:     status,
		store:      st,
		messageBus: msgBus,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wsHub = NewWSHub(s)
	s.bridge = NewEventBridge(msgBus, s.wsHub)
	return s
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/plugins", s.handlePlugins)
	mux.HandleFunc("GET /api/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/messages", s.handleCreateMessage)
	mux.HandleFunc("GET /api/ws", s.wsHub.HandleWebSocket)
	return corsMiddleware(authMiddleware(s.cfg.APIKey, mux))
}

// Start binds the configured address and serves in the background. Bind
// errors are returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Status server starting", map[string]interface{}{
		"addr": ln.Addr().String(),
	})

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.bridge.Run(runCtx)
	}()
	go func(srv *http.Server) {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}(s.server)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and waits for its goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel, s.listener = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	cancel()
	s.wg.Wait()
	return err
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Handlers ---

// statusResponse is the service status plus server uptime.
type statusResponse struct {
	orchestration.Status
	UptimeSeconds int    `json:"uptime_seconds"`
	UptimeHuman   string `json:"uptime_human"`
	WSClients     int    `json:"ws_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        s.status.Status(r.Context()),
		UptimeSeconds: int(uptime.Seconds()),
		UptimeHuman:   formatDuration(uptime),
		WSClients:     s.wsHub.ClientCount(),
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plugins":      st.Plugins,
		"capabilities": st.Capabilities,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
