package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/igorsilveira/codebot/pkg/ledger"
)

type statusResponse struct {
	Info
	State      string    `json:"state"`
	Authorized bool      `json:"authorized"`
	SyncCount  int       `json:"sync_count"`
	Cursor     string    `json:"cursor,omitempty"`
	Requests   int       `json:"requests"`
	Pending    int       `json:"pending"`
	StartedAt  time.Time `json:"started_at"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := g.hub.Snapshot()
	resp := statusResponse{
		Info:       g.info,
		State:      "unknown",
		Authorized: snap.Authorized,
		SyncCount:  snap.SyncCount,
		Requests:   g.ledger.Len(),
		Pending:    g.ledger.Pending(),
		StartedAt:  g.started,
	}
	if g.bot != nil {
		resp.State = g.bot.State().String()
		resp.SyncCount = g.bot.SyncCount()
		resp.Cursor, _ = g.bot.Cursor().LastSeen()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResponses lists ledger records newest first. ?limit bounds the list
// and ?pending=true keeps unanswered requests only.
func (g *Gateway) handleResponses(w http.ResponseWriter, r *http.Request) {
	records := g.ledger.List()

	if r.URL.Query().Get("pending") == "true" {
		kept := records[:0]
		for _, rec := range records {
			if !rec.HasResponse {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		if n < len(records) {
			records = records[:n]
		}
	}

	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (g *Gateway) handleResponse(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.ledger.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
