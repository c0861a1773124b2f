package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/user/tunnelguard/internal/daemon"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/netmon"
	"github.com/user/tunnelguard/internal/reconnect"
	"github.com/user/tunnelguard/internal/stats"
	"github.com/user/tunnelguard/internal/storage"
)

// Handlers contains the HTTP handlers. When serving inside the daemon
// process the live components are set; a standalone server works off
// the status file and the database instead.
type Handlers struct {
	status      func() (interface{}, error)
	dataDir     string
	collector   *stats.Collector
	network     *netmon.Monitor
	checker     *netmon.Checker
	reconnector *reconnect.Engine
	db          *storage.DB
}

// NewHandlers creates handlers over a live daemon.
func NewHandlers(d *daemon.Daemon) *Handlers {
	return &Handlers{
		status:      func() (interface{}, error) { return d.GetStatus(), nil },
		dataDir:     d.GetConfig().DataDir,
		collector:   d.Collector(),
		network:     d.Network(),
		checker:     d.Checker(),
		reconnector: d.Reconnector(),
		db:          d.GetDB(),
	}
}

// NewStandaloneHandlers creates handlers that read the daemon's
// published status file and database.
func NewStandaloneHandlers(db *storage.DB, dataDir string) *Handlers {
	return &Handlers{
		status:  func() (interface{}, error) { return daemon.ReadStatusFile(dataDir) },
		dataDir: dataDir,
		db:      db,
	}
}

// Routes builds the request mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", h.APIGetStatus)
	mux.HandleFunc("/api/stats", h.APIGetStats)
	mux.HandleFunc("/api/stats/history", h.APIGetStatsHistory)
	mux.HandleFunc("/api/interfaces", h.APIGetInterfaces)
	mux.HandleFunc("/api/health", h.APIGetHealth)
	mux.HandleFunc("/api/attempts", h.APIGetAttempts)
	mux.HandleFunc("/api/errors", h.APIGetErrors)
	return mux
}

// APIGetStatus returns the daemon status snapshot.
func (h *Handlers) APIGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.status()
	if err != nil {
		writeError(w, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, status)
}

// APIGetStats returns the current raw and smoothed samples.
func (h *Handlers) APIGetStats(w http.ResponseWriter, r *http.Request) {
	if h.collector != nil {
		writeJSON(w, map[string]model.StatsSample{
			"raw":      h.collector.Current(),
			"smoothed": h.collector.Smoothed(),
		})
		return
	}

	sf, err := daemon.ReadStatusFile(h.dataDir)
	if err != nil {
		writeError(w, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]float64{
		"download_speed": sf.DownloadSpeed,
		"upload_speed":   sf.UploadSpeed,
	})
}

// APIGetStatsHistory returns persisted samples. The since parameter is a
// duration like "1h"; the default is 24 hours.
func (h *Handlers) APIGetStatsHistory(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, []model.StatsSample{})
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if d, err := time.ParseDuration(sinceStr); err == nil {
			since = time.Now().Add(-d)
		}
	}

	samples, err := storage.NewSampleStorage(h.db).GetSince(since)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []model.StatsSample{}
	}
	writeJSON(w, samples)
}

// APIGetInterfaces returns the latest interface snapshot.
func (h *Handlers) APIGetInterfaces(w http.ResponseWriter, r *http.Request) {
	if h.network != nil {
		resp := map[string]interface{}{
			"state":       h.network.State().String(),
			"interfaces":  h.network.Interfaces(),
			"last_change": h.network.LastChange(),
		}
		if active, ok := h.network.ActiveInterface(); ok {
			resp["active"] = active
		}
		writeJSON(w, resp)
		return
	}

	sf, err := daemon.ReadStatusFile(h.dataDir)
	if err != nil {
		writeError(w, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]interface{}{
		"state":      sf.NetworkState,
		"interfaces": []model.InterfaceInfo{},
	})
}

// APIGetHealth returns the latest health verdict.
func (h *Handlers) APIGetHealth(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		resp := map[string]interface{}{
			"health":     h.checker.Health().String(),
			"last_check": h.checker.LastCheck(),
		}
		if h.collector != nil {
			resp["collection"] = h.collector.CollectionHealth()
		}
		if h.reconnector != nil {
			resp["total_attempts"] = h.reconnector.TotalAttempts()
		}
		writeJSON(w, resp)
		return
	}

	sf, err := daemon.ReadStatusFile(h.dataDir)
	if err != nil {
		writeError(w, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]interface{}{"health": sf.Health})
}

// APIGetAttempts returns recent reconnection attempts. The in-memory
// history is preferred; limit caps the persisted fallback.
func (h *Handlers) APIGetAttempts(w http.ResponseWriter, r *http.Request) {
	var attempts []model.ReconnectionAttempt
	if h.reconnector != nil {
		attempts = h.reconnector.History()
	}
	if len(attempts) == 0 && h.db != nil {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		stored, err := storage.NewAttemptStorage(h.db).GetRecent(limit)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		attempts = stored
	}
	if attempts == nil {
		attempts = []model.ReconnectionAttempt{}
	}
	writeJSON(w, attempts)
}

// APIGetErrors returns recent errors, in-memory first with a persisted
// fallback.
func (h *Handlers) APIGetErrors(w http.ResponseWriter, r *http.Request) {
	var errs []model.ErrorRecord
	if h.collector != nil {
		errs = h.collector.Errors()
	}
	if len(errs) == 0 && h.db != nil {
		stored, err := storage.NewErrorStorage(h.db).GetRecent(50)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		errs = stored
	}
	if errs == nil {
		errs = []model.ErrorRecord{}
	}
	writeJSON(w, errs)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
