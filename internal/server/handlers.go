package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"github.com/coinpilot/coinpilot/internal/database"
	"github.com/coinpilot/coinpilot/internal/domain"
	"github.com/coinpilot/coinpilot/internal/modules/approvals"
	"github.com/coinpilot/coinpilot/internal/modules/recommendations"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	databases := map[string]string{}
	healthy := true
	for name, db := range map[string]*database.DB{
		"ledger":  s.cfg.LedgerDB,
		"signals": s.cfg.SignalsDB,
		"config":  s.cfg.ConfigDB,
		"history": s.cfg.HistoryDB,
	} {
		if err := db.HealthCheck(ctx); err != nil {
			databases[name] = err.Error()
			healthy = false
		} else {
			databases[name] = "ok"
		}
	}

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"databases": databases,
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
		},
	}
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		status["runtime"].(map[string]interface{})["cpu_percent"] = cpuPercent[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["runtime"].(map[string]interface{})["memory_percent"] = vm.UsedPercent
	}

	code := http.StatusOK
	if !healthy {
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleRunRecommendationCycle(w http.ResponseWriter, r *http.Request) {
	approvalResult, err := s.cfg.Approvals.RunCycle(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	result, err := s.cfg.Recommendations.RunCycle(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals":       approvalResult,
		"recommendations": result,
	})
}

func (s *Server) handleRunMonitorCycle(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Monitor.RunCycle(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.cfg.Portfolio.GetSnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.cfg.Portfolio.GetHoldings()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, holdings)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	symbol := r.URL.Query().Get("symbol")

	var err error
	var trades interface{}
	if symbol != "" {
		trades, err = s.cfg.Trades.GetBySymbol(domain.NormalizeSymbol(symbol), limit)
	} else {
		trades, err = s.cfg.Trades.GetHistory(limit)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cfg.Recommendations.Repository().GetRecent(queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

type submitRecommendationRequest struct {
	Symbol       string            `json:"symbol"`
	Action       string            `json:"action"`
	Confidence   float64           `json:"confidence"`
	EntryPrice   decimal.Decimal   `json:"entry_price"`
	StopLoss     *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit1  *decimal.Decimal  `json:"take_profit_1,omitempty"`
	TakeProfit2  *decimal.Decimal  `json:"take_profit_2,omitempty"`
	SizeFraction decimal.Decimal   `json:"size_fraction"`
	RiskTier     string            `json:"risk_tier"`
	Summary      string            `json:"summary"`
	Meta         map[string]string `json:"meta,omitempty"`
	TTLHours     int               `json:"ttl_hours,omitempty"`
}

func (s *Server) handleSubmitRecommendation(w http.ResponseWriter, r *http.Request) {
	var req submitRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	action, err := domain.ActionFromString(req.Action)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := &recommendations.Recommendation{
		Symbol:       req.Symbol,
		Action:       action,
		Confidence:   req.Confidence,
		EntryPrice:   req.EntryPrice,
		StopLoss:     req.StopLoss,
		TakeProfit1:  req.TakeProfit1,
		TakeProfit2:  req.TakeProfit2,
		SizeFraction: req.SizeFraction,
		RiskTier:     req.RiskTier,
		Reasoning:    domain.Reasoning{Summary: req.Summary, Meta: req.Meta},
	}
	if req.TTLHours > 0 {
		rec.CreatedAt = time.Now()
		rec.ExpiresAt = rec.CreatedAt.Add(time.Duration(req.TTLHours) * time.Hour)
	}

	if err := s.cfg.Recommendations.Submit(rec); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetApprovals(w http.ResponseWriter, r *http.Request) {
	status := domain.ApprovalStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ApprovalPending
	}
	requests, err := s.cfg.Approvals.Repository().GetByStatus(status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Approvals.Approve(id); err != nil {
		s.writeApprovalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "approved"})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Approvals.Reject(id); err != nil {
		s.writeApprovalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "rejected"})
}

func (s *Server) writeApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approvals.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, approvals.ErrAlreadyDecided):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.AuditLog.GetRecent(queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.Settings.GetAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, all)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.cfg.Settings.Set(key, body.Value, nil); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
