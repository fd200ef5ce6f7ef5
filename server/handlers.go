package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/version"
)

// HandleHealth handles /health
// GET: liveness plus build information
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	info := version.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": info.Version,
		"commit":  info.Short(),
	})
}

// BudgetStatusPayload is the budget state shape shared by the REST
// endpoint and the status broadcast.
type BudgetStatusPayload struct {
	DailySpendUSD       float64 `json:"daily_spend_usd"`
	DailyBudgetUSD      float64 `json:"daily_budget_usd"`
	DailyRemainingUSD   float64 `json:"daily_remaining_usd"`
	WeeklySpendUSD      float64 `json:"weekly_spend_usd"`
	WeeklyBudgetUSD     float64 `json:"weekly_budget_usd"`
	MonthlySpendUSD     float64 `json:"monthly_spend_usd"`
	MonthlyBudgetUSD    float64 `json:"monthly_budget_usd"`
	MonthlyRemainingUSD float64 `json:"monthly_remaining_usd"`
	TaskCostUSD         float64 `json:"task_cost_usd"`
}

func (s *Server) budgetStatusPayload() (*BudgetStatusPayload, error) {
	status, err := s.budgetTracker.GetStatus()
	if err != nil {
		return nil, err
	}
	limits := s.budgetTracker.GetBudgetLimits()
	return &BudgetStatusPayload{
		DailySpendUSD:       status.DailySpend,
		DailyBudgetUSD:      limits.DailyBudgetUSD,
		DailyRemainingUSD:   status.DailyRemaining,
		WeeklySpendUSD:      status.WeeklySpend,
		WeeklyBudgetUSD:     limits.WeeklyBudgetUSD,
		MonthlySpendUSD:     status.MonthlySpend,
		MonthlyBudgetUSD:    limits.MonthlyBudgetUSD,
		MonthlyRemainingUSD: status.MonthlyRemaining,
		TaskCostUSD:         limits.TaskCostUSD,
	}, nil
}

// budgetUpdateRequest carries new spending limits. Nil fields are left
// unchanged.
type budgetUpdateRequest struct {
	DailyBudgetUSD   *float64 `json:"daily_budget_usd"`
	MonthlyBudgetUSD *float64 `json:"monthly_budget_usd"`
}

// HandleReelBudget handles /api/reel/budget
// GET: current spend against the configured windows
// PATCH: update daily/monthly limits, persisted to the config overrides
func (s *Server) HandleReelBudget(w http.ResponseWriter, r *http.Request) {
	if s.budgetTracker == nil {
		writeError(w, http.StatusServiceUnavailable, "Budget tracking not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		payload, err := s.budgetStatusPayload()
		if err != nil {
			handleError(w, s.logger, err, "failed to get budget status")
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case http.MethodPatch:
		var req budgetUpdateRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}
		if req.DailyBudgetUSD == nil && req.MonthlyBudgetUSD == nil {
			writeError(w, http.StatusBadRequest, "No budget fields to update")
			return
		}

		// Apply in-memory first, then persist so a restart keeps the
		// new limits. A persist failure is surfaced but does not roll
		// the live tracker back.
		if req.DailyBudgetUSD != nil {
			if err := s.budgetTracker.UpdateDailyBudget(*req.DailyBudgetUSD); err != nil {
				handleError(w, s.logger, err, "failed to update daily budget")
				return
			}
			if err := am.UpdatePipelineDailyBudget(*req.DailyBudgetUSD); err != nil {
				s.logger.Warnw("Failed to persist daily budget override", "error", err)
			}
		}
		if req.MonthlyBudgetUSD != nil {
			if err := s.budgetTracker.UpdateMonthlyBudget(*req.MonthlyBudgetUSD); err != nil {
				handleError(w, s.logger, err, "failed to update monthly budget")
				return
			}
			if err := am.UpdatePipelineMonthlyBudget(*req.MonthlyBudgetUSD); err != nil {
				s.logger.Warnw("Failed to persist monthly budget override", "error", err)
			}
		}

		payload, err := s.budgetStatusPayload()
		if err != nil {
			handleError(w, s.logger, err, "failed to get budget status")
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleReelUsage handles /api/reel/usage
// GET: aggregated model usage over the last ?hours= (default 24)
func (s *Server) HandleReelUsage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.usageTracker == nil {
		writeError(w, http.StatusServiceUnavailable, "Usage tracking not available")
		return
	}

	hours := parseIntQueryParam(r, "hours", 24, 1, 24*90)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	stats, err := s.usageTracker.GetUsageStats(since)
	if err != nil {
		handleError(w, s.logger, err, "failed to get usage stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since_hours": hours,
		"stats":       stats,
	})
}

// HandleWebSocket upgrades /ws connections and registers the client
// for job-update and status pushes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(s, conn, r.RemoteAddr)

	// Version handshake before the pumps start, so the write is not
	// concurrent with writePump.
	info := version.Get()
	if err := conn.WriteJSON(map[string]interface{}{
		"type":    "version",
		"version": info.Version,
		"commit":  info.Short(),
	}); err != nil {
		s.logger.Debugw("Failed to send version handshake", "client_id", client.id, "error", err)
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		client.close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
}
