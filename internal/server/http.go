package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"SynthLedger/internal/engine"
	"SynthLedger/internal/fixedpoint"
	"SynthLedger/internal/observability"
)

// Server exposes the operation endpoints and the read-only query surface
// over HTTP/JSON. Human decimal amounts at the boundary, integer wads
// inside.
type Server struct {
	engine  *engine.Engine
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
	http    *http.Server
}

func New(addr string, eng *engine.Engine, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		engine:  eng,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users/{user}", func(r chi.Router) {
			r.Post("/collateral/{token}/deposit", s.handleDeposit)
			r.Post("/collateral/{token}/redeem", s.handleRedeem)
			r.Post("/debt/mint", s.handleMint)
			r.Post("/debt/burn", s.handleBurn)
			r.Post("/deposit-and-mint", s.handleDepositAndMint)
			r.Post("/redeem-and-burn", s.handleRedeemAndBurn)
			r.Get("/position", s.handlePosition)
			r.Get("/health-factor", s.handleHealthFactor)
		})
		r.Post("/liquidations", s.handleLiquidate)
		r.Get("/collateral", s.handleTokens)
		r.Get("/collateral/{token}/price", s.handlePrice)
		r.Get("/collateral/{token}/value", s.handleUsdValue)
		r.Get("/collateral/{token}/amount", s.handleTokenAmount)
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// --- operation handlers ---

type amountRequest struct {
	Amount string `json:"amount"`
}

type depositAndMintRequest struct {
	Token      string `json:"token"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type redeemAndBurnRequest struct {
	Token      string `json:"token"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type liquidationRequest struct {
	Liquidator  string `json:"liquidator"`
	User        string `json:"user"`
	Token       string `json:"token"`
	DebtToCover string `json:"debt_to_cover"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	var req amountRequest
	amount, ok := s.decodeAmount(w, r, &req)
	if !ok {
		return
	}
	s.finishOp(w, r, "deposit", user,
		s.engine.DepositCollateral(user, chi.URLParam(r, "token"), amount))
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	var req amountRequest
	amount, ok := s.decodeAmount(w, r, &req)
	if !ok {
		return
	}
	s.finishOp(w, r, "redeem", user,
		s.engine.RedeemCollateral(user, chi.URLParam(r, "token"), amount))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	var req amountRequest
	amount, ok := s.decodeAmount(w, r, &req)
	if !ok {
		return
	}
	s.finishOp(w, r, "mint", user, s.engine.MintDebt(user, amount))
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	var req amountRequest
	amount, ok := s.decodeAmount(w, r, &req)
	if !ok {
		return
	}
	s.finishOp(w, r, "burn", user, s.engine.BurnDebt(user, amount))
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	var req depositAndMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "deposit_and_mint", http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	collateral, err := parseWad(req.Collateral)
	if err != nil {
		s.writeError(w, "deposit_and_mint", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	debt, err := parseWad(req.Debt)
	if err != nil {
		s.writeError(w, "deposit_and_mint", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.finishOp(w, r, "deposit_and_mint", user,
		s.engine.DepositCollateralAndMintDebt(user, req.Token, collateral, debt))
}

func (s *Server) handleRedeemAndBurn(w http.ResponseWriter, r *http.Request) {
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	var req redeemAndBurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "redeem_and_burn", http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	collateral, err := parseWad(req.Collateral)
	if err != nil {
		s.writeError(w, "redeem_and_burn", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	debt, err := parseWad(req.Debt)
	if err != nil {
		s.writeError(w, "redeem_and_burn", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.finishOp(w, r, "redeem_and_burn", user,
		s.engine.RedeemCollateralAndBurnDebt(user, req.Token, collateral, debt))
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "liquidate", http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	liquidator, err := uuid.Parse(req.Liquidator)
	if err != nil {
		s.writeError(w, "liquidate", http.StatusBadRequest, "bad_request", "invalid liquidator id")
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		s.writeError(w, "liquidate", http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	debtToCover, err := parseWad(req.DebtToCover)
	if err != nil {
		s.writeError(w, "liquidate", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.finishOp(w, r, "liquidate", user,
		s.engine.Liquidate(liquidator, user, req.Token, debtToCover))
}

// finishOp maps an engine result onto the response. Success returns the
// acting user's fresh position summary.
func (s *Server) finishOp(w http.ResponseWriter, r *http.Request, endpoint string, user uuid.UUID, err error) {
	if err != nil {
		status, code := opErrorStatus(err)
		body := map[string]interface{}{
			"error":   code,
			"message": err.Error(),
		}
		var broken *engine.HealthFactorBrokenError
		if errors.As(err, &broken) {
			body["health_factor"] = renderWad(broken.Value)
		}
		s.writeJSON(w, endpoint, status, body)
		return
	}
	s.writeJSON(w, endpoint, http.StatusOK, s.positionBody(user))
}

// opErrorStatus maps the engine error taxonomy onto HTTP statuses.
func opErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, engine.ErrUnsupportedCollateral):
		return http.StatusBadRequest, "unsupported_collateral"
	case errors.Is(err, engine.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, "insufficient_collateral"
	case errors.Is(err, engine.ErrInsufficientDebt):
		return http.StatusUnprocessableEntity, "insufficient_debt"
	case errors.Is(err, engine.ErrHealthFactorBroken):
		return http.StatusUnprocessableEntity, "health_factor_broken"
	case errors.Is(err, engine.ErrHealthFactorOk):
		return http.StatusUnprocessableEntity, "health_factor_ok"
	case errors.Is(err, engine.ErrHealthFactorNotImproved):
		return http.StatusUnprocessableEntity, "health_factor_not_improved"
	case errors.Is(err, engine.ErrReentrancy):
		return http.StatusConflict, "busy"
	case errors.Is(err, engine.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// --- query handlers ---

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("position", time.Now())
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, "position", http.StatusOK, s.positionBody(user))
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("health_factor", time.Now())
	user, ok := s.pathUser(w, r)
	if !ok {
		return
	}
	hf, err := s.engine.HealthFactor(user)
	if err != nil {
		s.writeError(w, "health_factor", http.StatusServiceUnavailable, "oracle", err.Error())
		return
	}
	s.writeJSON(w, "health_factor", http.StatusOK, map[string]interface{}{
		"user":          user.String(),
		"health_factor": renderWad(hf),
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("tokens", time.Now())
	s.writeJSON(w, "tokens", http.StatusOK, map[string]interface{}{
		"tokens": s.engine.Tokens(),
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("price", time.Now())
	token := chi.URLParam(r, "token")
	p, err := s.engine.LatestPrice(token)
	if err != nil {
		s.writeError(w, "price", http.StatusNotFound, "no_price", err.Error())
		return
	}
	s.writeJSON(w, "price", http.StatusOK, map[string]interface{}{
		"token":      token,
		"price":      decimal.NewFromBigInt(p.Value, -int32(fixedpoint.PriceDecimals)).String(),
		"sequence":   p.Sequence,
		"updated_at": p.UpdatedAt,
	})
}

func (s *Server) handleUsdValue(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("usd_value", time.Now())
	token := chi.URLParam(r, "token")
	amount, err := parseWad(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, "usd_value", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	v, err := s.engine.UsdValue(token, amount)
	if err != nil {
		status, code := queryErrorStatus(err)
		s.writeError(w, "usd_value", status, code, err.Error())
		return
	}
	s.writeJSON(w, "usd_value", http.StatusOK, map[string]interface{}{
		"token":     token,
		"amount":    renderWad(amount),
		"usd_value": renderWad(v),
	})
}

func (s *Server) handleTokenAmount(w http.ResponseWriter, r *http.Request) {
	defer s.observeQuery("token_amount", time.Now())
	token := chi.URLParam(r, "token")
	usd, err := parseWad(r.URL.Query().Get("usd"))
	if err != nil {
		s.writeError(w, "token_amount", http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	v, err := s.engine.TokenAmountForUsd(token, usd)
	if err != nil {
		status, code := queryErrorStatus(err)
		s.writeError(w, "token_amount", status, code, err.Error())
		return
	}
	s.writeJSON(w, "token_amount", http.StatusOK, map[string]interface{}{
		"token":  token,
		"usd":    renderWad(usd),
		"amount": renderWad(v),
	})
}

func queryErrorStatus(err error) (int, string) {
	if errors.Is(err, engine.ErrUnsupportedCollateral) {
		return http.StatusNotFound, "unsupported_collateral"
	}
	return http.StatusServiceUnavailable, "oracle"
}

func (s *Server) positionBody(user uuid.UUID) map[string]interface{} {
	collateral := make(map[string]string)
	for token, amount := range s.engine.AllCollateralOf(user) {
		collateral[token] = renderWad(amount)
	}
	body := map[string]interface{}{
		"user":       user.String(),
		"collateral": collateral,
		"debt":       renderWad(s.engine.DebtOf(user)),
	}
	if v, err := s.engine.CollateralValueUsd(user); err == nil {
		body["collateral_value_usd"] = renderWad(v)
	}
	if hf, err := s.engine.HealthFactor(user); err == nil {
		body["health_factor"] = renderWad(hf)
	}
	return body
}

// --- helpers ---

func (s *Server) pathUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	user, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		s.writeError(w, "user", http.StatusBadRequest, "bad_request", "invalid user id")
		return uuid.Nil, false
	}
	return user, true
}

func (s *Server) decodeAmount(w http.ResponseWriter, r *http.Request, req *amountRequest) (*big.Int, bool) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.writeError(w, "amount", http.StatusBadRequest, "bad_request", "invalid JSON body")
		return nil, false
	}
	amount, err := parseWad(req.Amount)
	if err != nil {
		s.writeError(w, "amount", http.StatusBadRequest, "bad_request", err.Error())
		return nil, false
	}
	return amount, true
}

func (s *Server) observeQuery(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, status int, body interface{}) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, http.StatusText(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, status int, code, message string) {
	s.writeJSON(w, endpoint, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// parseWad converts a human decimal string ("15", "0.5") into an integer
// wad. More than 18 fractional digits is rejected rather than rounded.
func parseWad(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.New("invalid decimal amount")
	}
	shifted := d.Shift(fixedpoint.WadDecimals)
	if !shifted.IsInteger() {
		return nil, errors.New("amount has more than 18 decimal places")
	}
	return shifted.BigInt(), nil
}

// renderWad formats an integer wad as a human decimal string. The zero-debt
// health-factor sentinel renders as "inf".
func renderWad(v *big.Int) string {
	if v.Cmp(fixedpoint.MaxUint256()) == 0 {
		return "inf"
	}
	return decimal.NewFromBigInt(v, -int32(fixedpoint.WadDecimals)).String()
}
