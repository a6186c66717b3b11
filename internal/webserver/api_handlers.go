package webserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/queue"
	"github.com/agusx1211/switchyard/internal/spawn"
	"github.com/agusx1211/switchyard/internal/usage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.LogKV("webserver", "failed to encode json response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	debug.LogKV("webserver", "store read failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

type statusResponse struct {
	Forward        map[queue.Status]int `json:"forward,omitempty"`
	Spawn          map[queue.Status]int `json:"spawn,omitempty"`
	Inbox          map[queue.Status]int `json:"inbox,omitempty"`
	ActiveSessions int                  `json:"active_sessions"`
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp statusResponse
	var err error
	if srv.src.Forward != nil {
		if resp.Forward, err = srv.src.Forward.Counts(ctx); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if srv.src.Spawn != nil {
		if resp.Spawn, err = srv.src.Spawn.Counts(ctx); err != nil {
			writeStoreError(w, err)
			return
		}
		active, err := srv.src.Spawn.ActiveSessions(ctx, srv.src.Now())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		resp.ActiveSessions = len(active)
	}
	if srv.src.Inbox != nil {
		if resp.Inbox, err = srv.src.Inbox.Counts(ctx); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (srv *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if srv.src.Forward == nil {
		writeError(w, http.StatusNotFound, "forward queue not served")
		return
	}
	status := queue.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	var (
		items any
		err   error
	)
	if status != "" {
		items, err = srv.src.Forward.ListByStatus(r.Context(), status)
	} else {
		items, err = srv.src.Forward.List(r.Context())
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (srv *Server) handleSpawnRequests(w http.ResponseWriter, r *http.Request) {
	if srv.src.Spawn == nil {
		writeError(w, http.StatusNotFound, "spawn requests not served")
		return
	}
	items, err := srv.src.Spawn.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (srv *Server) handleSpawnSessions(w http.ResponseWriter, r *http.Request) {
	if srv.src.Spawn == nil {
		writeError(w, http.StatusNotFound, "spawn sessions not served")
		return
	}
	var (
		sessions []spawn.Session
		err      error
	)
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		sessions, err = srv.src.Spawn.Sessions(r.Context())
	} else {
		sessions, err = srv.src.Spawn.ActiveSessions(r.Context(), srv.src.Now())
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sessions == nil {
		sessions = []spawn.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (srv *Server) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	if srv.src.Usage == nil {
		writeError(w, http.StatusNotFound, "usage not served")
		return
	}
	b, err := srv.src.Usage.Baseline(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage.BuildReport(b))
}

type budgetResponse struct {
	AgentID string             `json:"agent_id"`
	Status  usage.BudgetStatus `json:"status"`
	Used    int64              `json:"used"`
	Limit   int64              `json:"limit"`
}

func (srv *Server) handleUsageBudget(w http.ResponseWriter, r *http.Request) {
	if srv.src.Usage == nil {
		writeError(w, http.StatusNotFound, "usage not served")
		return
	}
	agent := strings.TrimSpace(r.PathValue("agent"))
	limit := srv.src.DailyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	b, err := srv.src.Usage.Baseline(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := budgetResponse{AgentID: agent, Limit: limit, Status: usage.BudgetFor(b, agent, limit)}
	if a, ok := b.Agents[agent]; ok && a != nil {
		resp.Used = a.TotalTokens
	}
	writeJSON(w, http.StatusOK, resp)
}
