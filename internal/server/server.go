package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"nutribot/internal/bot"
	"nutribot/internal/metrics"
	"nutribot/internal/models"
)

type Config struct {
	Host            string
	Port            int
	APIKey          string
	ShutdownTimeout time.Duration
	Version         string
}

// commands is the bot surface the tools drive.
type commands interface {
	Start(ctx context.Context, userID int64) (bot.OutboundMessage, error)
	Help(ctx context.Context, userID int64) (bot.OutboundMessage, error)
	LogFood(ctx context.Context, userID int64, description string) (bot.OutboundMessage, error)
	Confirm(ctx context.Context, userID int64, proposalID string) (bot.OutboundMessage, error)
	Decline(ctx context.Context, userID int64, proposalID string) (bot.OutboundMessage, error)
	Reset(ctx context.Context, userID int64) (bot.OutboundMessage, error)
	ShowTotals(ctx context.Context, userID int64) (bot.OutboundMessage, error)
	EnableReports(ctx context.Context, userID int64) (bot.OutboundMessage, error)
	DisableReports(ctx context.Context, userID int64) (bot.OutboundMessage, error)
	SendReportNow(ctx context.Context, userID int64) (bot.OutboundMessage, error)
}

type reportRunner interface {
	RunNow(ctx context.Context, trigger models.RunTrigger) (models.ReportRun, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

// errBadParams marks caller mistakes; they map to 400.
var errBadParams = errors.New("invalid parameters")

// CommandServer exposes the bot commands as MCP tools over HTTP, plus
// health and metrics endpoints.
type CommandServer struct {
	httpServer *http.Server
	cmds       commands
	reports    reportRunner
	health     pinger
	metrics    *metrics.Metrics
	config     *Config
	info       protocol.Implementation
	tools      map[string]toolHandler
	specs      []toolSpec
	log        *slog.Logger
}

func NewCommandServer(cfg *Config, cmds commands, reports reportRunner, health pinger, m *metrics.Metrics, logger *slog.Logger) *CommandServer {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &CommandServer{
		cmds:    cmds,
		reports: reports,
		health:  health,
		metrics: m,
		config:  cfg,
		info:    protocol.Implementation{Name: "nutribot", Version: cfg.Version},
		log:     logger.With("component", "server"),
	}
	s.registerTools()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)
	mux.HandleFunc("/tools", s.handleListTools)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", m.Handler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *CommandServer) Handler() http.Handler { return s.httpServer.Handler }

func (s *CommandServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.info)
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errBadParams) {
			status = http.StatusBadRequest
		}
		s.log.Warn("tool call failed", "tool", request.Name, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *CommandServer) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server": s.info, "tools": s.specs})
}

func (s *CommandServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *CommandServer) authorized(r *http.Request) bool {
	if s.config.APIKey == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIKey)) == 1
}

// Start serves until Stop is called.
func (s *CommandServer) Start(ctx context.Context) error {
	s.log.Info("starting command server", "addr", s.httpServer.Addr, "tools", len(s.tools))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *CommandServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func (s *CommandServer) createJSONResponse(data interface{}, isError bool) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
		IsError: isError,
	}, nil
}
