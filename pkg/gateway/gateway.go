package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/igorsilveira/codebot/pkg/bot"
	"github.com/igorsilveira/codebot/pkg/ledger"
	"github.com/igorsilveira/codebot/pkg/notify"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

// BotInfo is the part of the bot the status API reads.
type BotInfo interface {
	State() bot.State
	SyncCount() int
	Cursor() *bot.Cursor
}

type Gateway struct {
	server    *http.Server
	router    *chi.Mux
	bot       BotInfo
	ledger    *ledger.Ledger
	hub       *notify.Hub
	logger    *slog.Logger
	authToken string
	info      Info
	started   time.Time
}

// Info describes the running bot for /api/status.
type Info struct {
	Feed    string `json:"feed"`
	Handle  string `json:"handle"`
	Module  string `json:"module"`
	Version string `json:"version,omitempty"`
}

type Config struct {
	Bind      string
	Port      int
	Bot       BotInfo
	Ledger    *ledger.Ledger
	Hub       *notify.Hub
	Logger    *slog.Logger
	AuthToken string
	Info      Info
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = notify.NewHub(0)
	}
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.New(nil)
	}

	g := &Gateway{
		router:    chi.NewRouter(),
		bot:       cfg.Bot,
		ledger:    cfg.Ledger,
		hub:       cfg.Hub,
		logger:    cfg.Logger,
		authToken: cfg.AuthToken,
		info:      cfg.Info,
		started:   time.Now().UTC(),
	}
	g.router.Use(middleware.Recoverer, middleware.RequestID, middleware.RealIP, g.logRequests)
	g.registerRoutes()

	g.server = &http.Server{
		Addr:              resolveAddr(cfg.Bind, cfg.Port),
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return g
}

func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) registerRoutes() {
	g.router.Get("/healthz", g.handleHealthz)
	g.router.Get("/readyz", g.handleReadyz)
	g.router.Handle("/metrics", promhttp.Handler())

	g.router.Group(func(r chi.Router) {
		if g.authToken != "" {
			r.Use(g.requireToken)
		}
		r.Get("/api/status", g.handleStatus)
		r.Get("/api/responses", g.handleResponses)
		r.Get("/api/responses/{id}", g.handleResponse)
		r.Get("/ws", g.handleWebSocket)
	})
}

// Start serves until ctx is done, then drains connections for up to ten
// seconds.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	telemetry.FromContext(ctx).Info("gateway listening", slog.String("addr", ln.Addr().String()))

	drained := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		g.logger.Info("gateway shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		drained <- g.server.Shutdown(sctx)
	})

	err = g.server.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		stop()
		return fmt.Errorf("gateway serve: %w", err)
	}
	return <-drained
}

// logRequests logs API traffic at debug level; probes and scrapes are skipped.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.logger.Debug("gateway request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(g.started).Truncate(time.Second).String(),
	})
}

// handleReadyz reports ready once the feed session is authorized.
func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !g.hub.Snapshot().Authorized {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (g *Gateway) requireToken(next http.Handler) http.Handler {
	want := []byte(g.authToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// resolveAddr maps the bind names loopback and lan to addresses; anything else
// is used as the host verbatim.
func resolveAddr(bind string, port int) string {
	host := bind
	switch bind {
	case "", "loopback":
		host = "127.0.0.1"
	case "lan", "all":
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
