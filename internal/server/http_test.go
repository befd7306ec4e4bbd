package server_test

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"SynthLedger/internal/engine"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/registry"
	"SynthLedger/internal/server"
	"SynthLedger/internal/token"
)

type fixture struct {
	handler http.Handler
	user    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithMetrics(t, nil)
}

func newFixtureWithMetrics(t *testing.T, metrics *observability.Metrics) *fixture {
	t.Helper()

	prices := oracle.NewBook()
	prices.SetPrice("WETH", oracle.Price{
		Value:     big2000(),
		Sequence:  1,
		UpdatedAt: time.Now(),
	})
	reg, err := registry.New([]string{"WETH"}, []*oracle.Adapter{oracle.NewAdapter(prices, "WETH")})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	weth := token.NewBook("WETH")
	eng, err := engine.New(engine.Config{
		Registry:   reg,
		Debt:       token.NewBook("SUSD"),
		Collateral: map[string]engine.CollateralToken{"WETH": weth},
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	user := uuid.New()
	wad100, _ := newWad("100")
	if err := weth.Mint(user, wad100); err != nil {
		t.Fatalf("seed mint: %v", err)
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)
	srv := server.New(":0", eng, health, metrics, zerolog.Nop())
	return &fixture{handler: srv.Handler(), user: user}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("%s %s: non-JSON body %q", method, path, rec.Body.String())
	}
	return rec, decoded
}

func TestReadiness(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if body["status"] != "ready" {
		t.Errorf("status %v, want ready", body["status"])
	}
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/collateral/WETH/deposit",
		`{"amount":"15"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %v", rec.Code, body)
	}

	collateral, ok := body["collateral"].(map[string]interface{})
	if !ok || collateral["WETH"] != "15" {
		t.Errorf("collateral %v, want WETH=15", body["collateral"])
	}
	if body["collateral_value_usd"] != "30000" {
		t.Errorf("collateral_value_usd %v, want 30000", body["collateral_value_usd"])
	}
	if body["health_factor"] != "inf" {
		t.Errorf("health_factor %v, want inf for debt-free position", body["health_factor"])
	}
}

func TestDeposit_InvalidUserID(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost,
		"/v1/users/not-a-uuid/collateral/WETH/deposit", `{"amount":"1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
	if body["error"] != "bad_request" {
		t.Errorf("error %v, want bad_request", body["error"])
	}
}

func TestDeposit_TooManyDecimals(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/collateral/WETH/deposit",
		`{"amount":"1.0000000000000000001"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestDeposit_UnsupportedToken(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/collateral/DOGE/deposit", `{"amount":"1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
	if body["error"] != "unsupported_collateral" {
		t.Errorf("error %v, want unsupported_collateral", body["error"])
	}
}

func TestMint_BreaksHealthFactor(t *testing.T) {
	f := newFixture(t)
	if rec, body := f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/collateral/WETH/deposit", `{"amount":"15"}`); rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d %v", rec.Code, body)
	}

	rec, body := f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/debt/mint", `{"amount":"15000.000000000000000001"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422 (body %v)", rec.Code, body)
	}
	if body["error"] != "health_factor_broken" {
		t.Errorf("error %v, want health_factor_broken", body["error"])
	}
	hf, ok := body["health_factor"].(string)
	if !ok || hf == "" || hf == "inf" {
		t.Errorf("health_factor %v, want the offending finite value", body["health_factor"])
	}
	if !strings.HasPrefix(hf, "0.9999") {
		t.Errorf("health_factor %s, want just under 1", hf)
	}
}

func TestMintAndPosition(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/collateral/WETH/deposit", `{"amount":"10"}`)

	rec, body := f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/debt/mint", `{"amount":"5000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mint: %d %v", rec.Code, body)
	}
	if body["debt"] != "5000" {
		t.Errorf("debt %v, want 5000", body["debt"])
	}
	if body["health_factor"] != "2" {
		t.Errorf("health_factor %v, want 2", body["health_factor"])
	}

	rec, body = f.do(t, http.MethodGet, "/v1/users/"+f.user.String()+"/position", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("position: %d", rec.Code)
	}
	if body["debt"] != "5000" {
		t.Errorf("position debt %v, want 5000", body["debt"])
	}
}

func TestBurn_MoreThanMinted(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/collateral/WETH/deposit", `{"amount":"10"}`)
	f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/debt/mint", `{"amount":"100"}`)

	rec, body := f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/debt/burn", `{"amount":"101"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status %d, want 422", rec.Code)
	}
	if body["error"] != "insufficient_debt" {
		t.Errorf("error %v, want insufficient_debt", body["error"])
	}
}

func TestLiquidate_HealthyPosition(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost,
		"/v1/users/"+f.user.String()+"/deposit-and-mint",
		`{"token":"WETH","collateral":"10","debt":"5000"}`)

	rec, body := f.do(t, http.MethodPost, "/v1/liquidations",
		`{"liquidator":"`+uuid.NewString()+`","user":"`+f.user.String()+`","token":"WETH","debt_to_cover":"1000"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status %d, want 422", rec.Code)
	}
	if body["error"] != "health_factor_ok" {
		t.Errorf("error %v, want health_factor_ok", body["error"])
	}
}

func TestCollateralList(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/v1/collateral", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	tokens, ok := body["tokens"].([]interface{})
	if !ok || len(tokens) != 1 || tokens[0] != "WETH" {
		t.Errorf("tokens %v, want [WETH]", body["tokens"])
	}
}

func TestPriceEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/v1/collateral/WETH/price", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if body["price"] != "2000" {
		t.Errorf("price %v, want 2000", body["price"])
	}
}

func TestConversionEndpoints(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/v1/collateral/WETH/value?amount=15", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("value: %d %v", rec.Code, body)
	}
	if body["usd_value"] != "30000" {
		t.Errorf("usd_value %v, want 30000", body["usd_value"])
	}

	rec, body = f.do(t, http.MethodGet, "/v1/collateral/WETH/amount?usd=1000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("amount: %d %v", rec.Code, body)
	}
	if body["amount"] != "0.5" {
		t.Errorf("amount %v, want 0.5", body["amount"])
	}
}

func TestQueryDurationObserved(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	f := newFixtureWithMetrics(t, metrics)

	if rec, _ := f.do(t, http.MethodGet, "/v1/users/"+f.user.String()+"/position", ""); rec.Code != http.StatusOK {
		t.Fatalf("position: %d", rec.Code)
	}
	f.do(t, http.MethodGet, "/v1/collateral", "")

	if got := testutil.CollectAndCount(metrics.QueryDuration, "synth_query_duration_seconds"); got != 2 {
		t.Errorf("got %d query duration series, want 2", got)
	}
}

func TestConversion_UnknownToken(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/v1/collateral/DOGE/value?amount=1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
	if body["error"] != "unsupported_collateral" {
		t.Errorf("error %v, want unsupported_collateral", body["error"])
	}
}

// big2000 is the $2000 oracle quote at 8 decimals.
func big2000() *big.Int {
	return new(big.Int).Mul(big.NewInt(2000), big.NewInt(100_000_000))
}

func newWad(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(18).BigInt(), nil
}
