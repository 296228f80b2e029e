package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"zone_recovery_go/badbank"
	"zone_recovery_go/broker"
	"zone_recovery_go/config"
	"zone_recovery_go/profit"
	"zone_recovery_go/risk"
)

func newTestServer(t *testing.T) (*httptest.Server, *badbank.Bank) {
	t.Helper()
	client := broker.NewMockClient()
	bank := badbank.NewBank()
	accountant := profit.NewAccountant(0.10, bank)
	riskMgr := risk.NewManager(
		&config.ZoneConfig{ZonePips: 20, TPPips: 30, MaxHedges: 10, GlobalPositionCap: 10},
		&config.EnvConfig{FreshnessGateEnabled: true, FreshTickMaxAgeSec: 10},
		client, risk.Collaborators{},
	)

	s := NewServer("127.0.0.1:0", riskMgr, bank, accountant)
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)
	return ts, bank
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status/EURUSD")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body, "risk")
	require.Contains(t, body, "profit")

	var status risk.Status
	require.NoError(t, json.Unmarshal(body["risk"], &status))
	require.Equal(t, "EURUSD", status.Symbol)
	require.Equal(t, 0, status.ActiveHedges)
}

func TestBadBankEndpoint(t *testing.T) {
	ts, bank := newTestServer(t)
	bank.RegisterToxicAsset("EURUSD_7", []broker.Position{
		{Ticket: 7, Symbol: "EURUSD", Side: broker.Buy, Volume: 0.05, PriceOpen: 1.1000},
	})

	resp, err := http.Get(ts.URL + "/badbank")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats badbank.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, 1, stats.AssetCount)
}
