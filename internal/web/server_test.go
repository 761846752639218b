package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parapet-finance/parapet/internal/engine"
	"github.com/parapet-finance/parapet/internal/lending"
	"github.com/parapet-finance/parapet/internal/token"
	"github.com/parapet-finance/parapet/internal/types"
)

func newTestServer(t *testing.T) *WebServer {
	t.Helper()

	oracle := lending.NewStaticOracle(nil)
	oracle.SetLoan("usdc-pool-a", lending.LoanRecord{
		TermEnd:           time.Now().Add(365 * 24 * time.Hour),
		BuyerAPR:          sdkmath.LegacyMustNewDecFromStr("0.04"),
		PaymentPeriodDays: 30,
		LastPaymentAt:     time.Now(),
		Principal:         map[types.AccountID]map[uint64]sdkmath.LegacyDec{},
	})

	registry := lending.NewRegistry()
	registry.Register("static", oracle)
	registry.Bind("usdc-pool-a", "static")

	vault, err := token.NewAssetVault(6)
	require.NoError(t, err)

	eng := engine.New(registry, nil)
	_, err = eng.RegisterPool(engine.PoolSpec{
		ID: 1,
		Params: types.PoolParams{
			LeverageRatioFloor:       sdkmath.LegacyMustNewDecFromStr("0.10"),
			LeverageRatioCeiling:     sdkmath.LegacyMustNewDecFromStr("0.20"),
			LeverageRatioBuffer:      sdkmath.LegacyMustNewDecFromStr("0.05"),
			MinRequiredCapital:       sdkmath.LegacyMustNewDecFromStr("100000"),
			Curvature:                sdkmath.LegacyMustNewDecFromStr("0.05"),
			MinPremiumPercent:        sdkmath.LegacyMustNewDecFromStr("0.02"),
			UnderlyingPremiumPercent: sdkmath.LegacyMustNewDecFromStr("0.10"),
			MinProtectionDuration:    30 * 24 * time.Hour,
			RenewalGracePeriod:       7 * 24 * time.Hour,
		},
		CycleParams: types.PoolCycleParams{
			OpenDuration:  10 * 24 * time.Hour,
			CycleDuration: 90 * 24 * time.Hour,
		},
		Token:  token.NewSnapshotToken(),
		Assets: vault,
		Basket: lending.NewStaticBasket(registry, "usdc-pool-a"),
	})
	require.NoError(t, err)
	require.NoError(t, eng.AssessStates(1))

	return NewWebServer("0", eng)
}

func get(t *testing.T, server *WebServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	rec := get(t, newTestServer(t), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["pools"])
}

func TestPoolEndpoints(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)

	rec := get(t, server, "/api/pools")
	require.Equal(t, http.StatusOK, rec.Code)
	var pools []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pools))
	require.Len(t, pools, 1)
	assert.Equal(t, "OpenToSellers", pools[0]["phase"])

	rec = get(t, server, "/api/pools/1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, server, "/api/pools/1/protections")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, server, "/api/pools/42")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, server, "/api/pools/banana")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoanStatusEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)

	rec := get(t, server, "/api/pools/1/loans/usdc-pool-a/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Active", body["status"])

	rec = get(t, server, "/api/pools/1/loans/ghost/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, server, "/api/pools/1/loans/usdc-pool-a/locked")
	require.Equal(t, http.StatusOK, rec.Code)
}
