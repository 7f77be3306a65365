package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/config"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/domain"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/ingest"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/notify"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/store"
)

const maxBodyBytes = 8 << 20

// ChannelProbe reports push-channel connectivity. *ingest.Adapter implements it.
type ChannelProbe interface {
	Connected() bool
}

// Deps are the collaborators served over HTTP. Loader, Channel and Notifier
// are optional.
type Deps struct {
	Store      *store.Store
	Dispatcher *ingest.Dispatcher
	Loader     *config.Loader
	Config     *config.Config // used when Loader is nil
	Channel    ChannelProbe
	Notifier   *notify.Notifier
	Logger     *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	store    *store.Store
	dispatch *ingest.Dispatcher
	loader   *config.Loader
	static   *config.Config
	channel  ChannelProbe
	notifier *notify.Notifier
	decoder  *ingest.Decoder
	logger   *slog.Logger

	// closing is closed by CloseStreams to end every open SSE stream.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandler wires the handler. Routes are registered by NewRouter.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	return &Handler{
		store:    d.Store,
		dispatch: d.Dispatcher,
		loader:   d.Loader,
		static:   d.Config,
		channel:  d.Channel,
		notifier: d.Notifier,
		decoder:  ingest.NewDecoder("http", d.Logger),
		logger:   d.Logger,
		closing:  make(chan struct{}),
	}
}

// CloseStreams ends all open /v1/stream responses. http.Server.Shutdown does
// not interrupt active handlers, so register it with RegisterOnShutdown.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func (h *Handler) config() *config.Config {
	if h.loader != nil {
		return h.loader.Config()
	}
	return h.static
}

// ── Reads ────────────────────────────────────────────────────────────────────

// GET /v1/state — full snapshot.
func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.State())
}

// GET /v1/stats
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.State().Stats)
}

// GET /v1/transactions?limit=N
func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeWindow(w, r, h.store.State().Transactions)
}

// GET /v1/alerts?limit=N
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	h.writeWindow(w, r, h.store.State().Alerts)
}

func (h *Handler) writeWindow(w http.ResponseWriter, r *http.Request, window []domain.Transaction) {
	items := window
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		if n < len(items) {
			items = items[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}

// ── Ingress ──────────────────────────────────────────────────────────────────

// POST /v1/batches — push a {"frauds":[...]} batch, same shape as the channel payload.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch, rejected, err := h.decoder.Payload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	total := len(batch.Frauds) + rejected
	if total == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one transaction")
		return
	}
	if maxSize := h.config().API.MaxBatchSize; total > maxSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", total, maxSize))
		return
	}

	accepted := h.dispatch.Deliver(batch)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id": batch.ID,
		"total":    total,
		"accepted": accepted,
		"rejected": rejected,
	})
}

// GET /v1/batches/recent — summaries of the last delivered batches, newest first.
func (h *Handler) recentBatches(w http.ResponseWriter, r *http.Request) {
	items := h.dispatch.Recent()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}

// ── Config ───────────────────────────────────────────────────────────────────

// GET /v1/config — active pipeline configuration.
func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config())
}

// POST /v1/config/reload — re-read the config file now.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusConflict, "no config file loaded")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"version":  cfg.Version,
		"store":    cfg.Store,
		"webhooks": len(cfg.Notify.Webhooks),
	})
}

// ── Probes ───────────────────────────────────────────────────────────────────

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 while the push channel is down or the webhook queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ready"}
	status := http.StatusOK

	if h.channel != nil {
		connected := h.channel.Connected()
		resp["channel_connected"] = connected
		if !connected {
			status = http.StatusServiceUnavailable
			resp["status"] = "disconnected"
		}
	}
	if h.notifier != nil {
		util := h.notifier.Utilization()
		resp["webhook_queue_utilization"] = util
		if util > 0.8 && status == http.StatusOK {
			status = http.StatusServiceUnavailable
			resp["status"] = "overloaded"
		}
	}
	writeJSON(w, status, resp)
}
