// monitor/http.go
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zone_recovery_go/badbank"
	"zone_recovery_go/logs"
	"zone_recovery_go/profit"
	"zone_recovery_go/risk"
)

// Server exposes the read-only observability surface: health, per-symbol risk
// status, the bad-bank ledger, and Prometheus metrics.
type Server struct {
	risk       *risk.Manager
	bank       *badbank.Bank
	accountant *profit.Accountant
	srv        *http.Server
}

func NewServer(addr string, riskMgr *risk.Manager, bank *badbank.Bank, accountant *profit.Accountant) *Server {
	s := &Server{risk: riskMgr, bank: bank, accountant: accountant}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status/{symbol}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/badbank", s.handleBadBank).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		logs.Infof("[HTTP] Status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("[HTTP] Server stopped: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	state := s.accountant.State(symbol)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"risk": s.risk.RiskStatus(symbol),
		"profit": map[string]interface{}{
			"total_lots":   state.TotalLots,
			"average_cost": state.AverageCost,
			"realized":     state.RealizedProfit.StringFixed(2),
			"unrealized":   state.UnrealizedProfit.StringFixed(2),
		},
	})
}

func (s *Server) handleBadBank(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bank.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Errorf("[HTTP] Failed to encode response: %v", err)
	}
}
