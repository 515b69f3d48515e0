package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geoprobe/internal/core/metacore"
	"geoprobe/internal/shared/config"
	"geoprobe/internal/shared/types"
)

const maxRequestBody = 16 << 20

// Prober is the part of the orchestrator the web API depends on.
type Prober interface {
	Run(ctx context.Context, nodes []types.Node) ([]types.Node, error)
	LastStats() types.RunStats
}

// Handler 处理 /api/probe 与 /api/status。同一时间只允许一次检测。
type Handler struct {
	prober Prober
	hub    *Hub
	log    zerolog.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	lastErr   string
	runs      int
}

func NewHandler(prober Prober, hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{prober: prober, hub: hub, log: log}
}

type probeResponse struct {
	Proxies []types.Node   `json:"proxies"`
	Stats   types.RunStats `json:"stats"`
}

type statusResponse struct {
	Status    string          `json:"status"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	Runs      int             `json:"runs"`
	LastRun   *types.RunStats `json:"last_run,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// HandleProbe 处理 POST /api/probe。请求体为节点列表 (JSON 或 YAML), 返回处理后的节点。
func (h *Handler) HandleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}
	nodes, err := config.ParseNodes(body, !isYAML(r.Header.Get("Content-Type")))
	if err != nil {
		http.Error(w, "Invalid node list: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !h.begin() {
		http.Error(w, "A probe is already running", http.StatusConflict)
		return
	}
	h.hub.Broadcast(MessageRunStarted, map[string]int{"total": len(nodes)})

	out, err := h.prober.Run(r.Context(), nodes)
	h.finish(err)
	if err != nil {
		h.log.Error().Err(err).Msg("Probe run failed.")
		h.hub.Broadcast(MessageRunFailed, map[string]string{"error": err.Error()})
		status := http.StatusInternalServerError
		if errors.Is(err, metacore.ErrStartFailed) {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}

	stats := h.prober.LastStats()
	h.hub.Broadcast(MessageRunFinished, stats)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(probeResponse{Proxies: out, Stats: stats})
}

// HandleStatus 处理 GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	resp := statusResponse{Status: "idle", Runs: h.runs, LastError: h.lastErr}
	if h.running {
		resp.Status = "probing"
		startedAt := h.startedAt
		resp.StartedAt = &startedAt
	}
	h.mu.Unlock()

	if resp.Runs > 0 {
		stats := h.prober.LastStats()
		if stats.RunID != "" {
			resp.LastRun = &stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return false
	}
	h.running = true
	h.startedAt = time.Now()
	return true
}

func (h *Handler) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.runs++
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
	}
}

func isYAML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "yaml") || strings.Contains(ct, "yml")
}
