// Package service provides the HTTP handlers wiring stored records, feed
// readings, and the settlement engine together.
//
// Mutating operations are serialized with a mutex so one settlement at a
// time touches the pool/custody/position records (single-instance). For
// horizontal scaling, replace with distributed locking or database-level
// optimistic concurrency.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/perpetua/settlement-engine/internal/engine"
	"github.com/perpetua/settlement-engine/internal/fixedpoint"
	"github.com/perpetua/settlement-engine/internal/metrics"
	"github.com/perpetua/settlement-engine/internal/model"
	"github.com/perpetua/settlement-engine/internal/oracle"
	"github.com/perpetua/settlement-engine/internal/pool"
	"github.com/perpetua/settlement-engine/internal/store"
)

// Service handles settlement operations over HTTP.
type Service struct {
	store  store.Store
	feeds  oracle.FeedReader
	engine *engine.Engine
	mu     sync.Mutex
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new settlement service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, feeds oracle.FeedReader, eng *engine.Engine, hub *WSHub) *Service {
	return &Service{
		store:  st,
		feeds:  feeds,
		engine: eng,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	Name        string            `json:"name"`
	Permissions model.Permissions `json:"permissions"`
}

// CreateCustodyRequest is the JSON body for adding a custody to a pool.
type CreateCustodyRequest struct {
	Mint        string            `json:"mint"`
	Decimals    uint8             `json:"decimals"`
	IsStable    bool              `json:"is_stable"`
	IsVirtual   bool              `json:"is_virtual"`
	Oracle      oracle.Config     `json:"oracle"`
	Fees        model.Fees        `json:"fees"`
	Pricing     model.Pricing     `json:"pricing"`
	Permissions model.Permissions `json:"permissions"`
	Assets      model.Assets      `json:"assets"`
}

// CreatePositionRequest is the JSON body for registering a position record.
// Position opening itself settles externally; this records the result.
type CreatePositionRequest struct {
	Owner               string           `json:"owner"`
	PoolID              string           `json:"pool_id"`
	CustodyID           string           `json:"custody_id"`
	CollateralCustodyID string           `json:"collateral_custody_id"`
	Side                string           `json:"side"`
	SizeUSD             uint64           `json:"size_usd"`
	CollateralUSD       uint64           `json:"collateral_usd"`
	CollateralAmount    uint64           `json:"collateral_amount"`
	EntryPrice          fixedpoint.Price `json:"entry_price"`
	LockedAmount        uint64           `json:"locked_amount"`
}

// LiquidateRequest is the JSON body for POST .../liquidate.
type LiquidateRequest struct {
	Receiver string `json:"receiver"`
}

// LiquidateResponse is returned after a committed liquidation.
type LiquidateResponse struct {
	PositionID string `json:"position_id"`
	Reward     uint64 `json:"reward"`
	Remaining  uint64 `json:"remaining"`
	Fee        uint64 `json:"fee"`
	ProfitUSD  uint64 `json:"profit_usd"`
	LossUSD    uint64 `json:"loss_usd"`
}

// WithdrawRequest is the JSON body for POST .../collateral/withdraw.
type WithdrawRequest struct {
	CollateralUSD uint64 `json:"collateral_usd"`
}

// WithdrawResponse is returned after a committed withdrawal.
type WithdrawResponse struct {
	PositionID    string `json:"position_id"`
	Gross         uint64 `json:"gross"`
	Net           uint64 `json:"net"`
	Fee           uint64 `json:"fee"`
	CollateralUSD uint64 `json:"collateral_usd"`
}

// ExitPriceResponse is returned from the exit-price query.
type ExitPriceResponse struct {
	Price        fixedpoint.Price `json:"price"`
	PriceDisplay string           `json:"price_display"`
	Fee          uint64           `json:"fee"`
}

// RemoveLiquidityResponse is returned from the redemption quote.
type RemoveLiquidityResponse struct {
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
}

// --- Record management handlers ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	p := &model.Pool{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Permissions: req.Permissions,
	}
	if err := s.store.CreatePool(r.Context(), p); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("pool created", "id", p.ID, "name", p.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// CreateCustody handles POST /api/v1/pools/{poolID}/custodies
func (s *Service) CreateCustody(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req CreateCustodyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mint == "" {
		writeError(w, "mint is required", http.StatusBadRequest)
		return
	}
	if req.Oracle.FeedRef == "" {
		writeError(w, "oracle feed_ref is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	c := &model.Custody{
		ID:          uuid.New().String(),
		PoolID:      poolID,
		Mint:        req.Mint,
		Decimals:    req.Decimals,
		IsStable:    req.IsStable,
		IsVirtual:   req.IsVirtual,
		Oracle:      req.Oracle,
		Fees:        req.Fees,
		Pricing:     req.Pricing,
		Permissions: req.Permissions,
		Assets:      req.Assets,
	}
	if err := s.store.CreateCustody(ctx, c); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	p.CustodyIDs = append(p.CustodyIDs, c.ID)
	if err := s.store.UpdatePool(ctx, p); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("custody created", "id", c.ID, "pool", poolID, "mint", c.Mint)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

// CreatePosition handles POST /api/v1/positions
func (s *Service) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.Long.String() && req.Side != model.Short.String() {
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}
	if req.SizeUSD == 0 || req.CollateralUSD == 0 {
		writeError(w, "size_usd and collateral_usd must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	custody, err := s.store.GetCustody(ctx, req.CustodyID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.store.GetCustody(ctx, req.CollateralCustodyID); err != nil {
		writeStoreError(w, err)
		return
	}

	side := model.Long
	if req.Side == model.Short.String() {
		side = model.Short
	}
	if side == model.Long && !custody.IsVirtual && req.CollateralCustodyID != req.CustodyID {
		writeError(w, "long positions on a non-virtual custody must be collateralized in that custody", http.StatusBadRequest)
		return
	}
	now := time.Now().Unix()
	p := &model.Position{
		ID:                  uuid.New().String(),
		Owner:               req.Owner,
		PoolID:              req.PoolID,
		CustodyID:           req.CustodyID,
		CollateralCustodyID: req.CollateralCustodyID,
		Side:                side,
		SizeUSD:             req.SizeUSD,
		CollateralUSD:       req.CollateralUSD,
		CollateralAmount:    req.CollateralAmount,
		EntryPrice:          req.EntryPrice,
		LockedAmount:        req.LockedAmount,
		OpenTime:            now,
		UpdateTime:          now,
	}
	if err := s.store.CreatePosition(ctx, p); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("position registered",
		"id", p.ID,
		"owner", p.Owner,
		"side", p.Side.String(),
		"size_usd", p.SizeUSD,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// ListPositions handles GET /api/v1/positions?owner=<owner>
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, "owner query parameter is required", http.StatusBadRequest)
		return
	}
	positions, err := s.store.ListPositionsByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// --- Valuation handlers ---

// GetExitPrice handles GET /api/v1/positions/{positionID}/exit-price
func (s *Service) GetExitPrice(w http.ResponseWriter, r *http.Request) {
	rec, bands, ok := s.loadForValuation(w, r)
	if !ok {
		return
	}
	res, err := s.engine.ExitPriceAndFee(rec, bands)
	if err != nil {
		writeSettlementError(w, "exit_price", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ExitPriceResponse{
		Price:        res.Price,
		PriceDisplay: res.Price.String(),
		Fee:          res.Fee,
	})
}

// GetPnL handles GET /api/v1/positions/{positionID}/pnl
func (s *Service) GetPnL(w http.ResponseWriter, r *http.Request) {
	rec, bands, ok := s.loadForValuation(w, r)
	if !ok {
		return
	}
	res, err := s.engine.PnL(rec, bands)
	if err != nil {
		writeSettlementError(w, "pnl", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// GetRemoveLiquidityQuote handles
// GET /api/v1/pools/{poolID}/remove-liquidity?custody=<id>&lp_amount=<n>
func (s *Service) GetRemoveLiquidityQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	poolID := chi.URLParam(r, "poolID")
	custodyID := r.URL.Query().Get("custody")
	lpAmount, err := strconv.ParseUint(r.URL.Query().Get("lp_amount"), 10, 64)
	if err != nil {
		writeError(w, "lp_amount must be a non-negative integer", http.StatusBadRequest)
		return
	}

	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	custody, err := s.store.GetCustody(ctx, custodyID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	custodies, custodyBands, err := s.poolCustodyBands(ctx, p, time.Now().Unix())
	if err != nil {
		writeSettlementError(w, "remove_liquidity", err)
		return
	}
	var band oracle.Band
	found := false
	for i, c := range custodies {
		if c.ID == custody.ID {
			band = custodyBands[i]
			found = true
		}
	}
	if !found {
		writeError(w, "custody does not belong to the pool", http.StatusBadRequest)
		return
	}

	res, err := s.engine.RemoveLiquidityAmountAndFee(p, custody, band, custodies, custodyBands, lpAmount)
	if err != nil {
		writeSettlementError(w, "remove_liquidity", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RemoveLiquidityResponse{Amount: res.Amount, Fee: res.Fee})
}

// --- Settlement handlers ---

// Liquidate handles POST /api/v1/positions/{positionID}/liquidate
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Receiver == "" {
		writeError(w, "receiver is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	positionID := chi.URLParam(r, "positionID")

	// Serialize settlement execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecords(ctx, positionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	now := time.Now().Unix()
	bands, err := s.resolveBands(ctx, rec, now)
	if err != nil {
		metrics.SettlementFailures.WithLabelValues("liquidate", failureReason(err)).Inc()
		writeSettlementError(w, "liquidate", err)
		return
	}

	res, err := s.engine.Liquidate(ctx, rec, bands, req.Receiver, now)
	if err != nil {
		metrics.SettlementFailures.WithLabelValues("liquidate", failureReason(err)).Inc()
		writeSettlementError(w, "liquidate", err)
		return
	}

	if err := s.persistCustodies(ctx, rec, res.Custody, res.CollateralCustody); err != nil {
		writeError(w, "failed to persist settlement", http.StatusInternalServerError)
		return
	}
	if err := s.store.DeletePosition(ctx, positionID); err != nil {
		writeError(w, "failed to close position", http.StatusInternalServerError)
		return
	}

	metrics.LiquidationsTotal.WithLabelValues(rec.Position.Side.String()).Inc()
	metrics.LiquidationVolumeUSD.WithLabelValues(rec.Custody.ID).Add(float64(rec.Position.SizeUSD))

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "position_liquidated",
			PositionID: positionID,
			PoolID:     rec.Pool.ID,
			CustodyID:  rec.Custody.ID,
			Side:       rec.Position.Side.String(),
			Amount:     fixedpoint.FromTokenAmount(res.Reward, rec.CollateralCustody.Decimals).String(),
			Fee:        fixedpoint.FromTokenAmount(res.Fee, rec.CollateralCustody.Decimals).String(),
			ProfitUSD:  strconv.FormatUint(res.ProfitUSD, 10),
			LossUSD:    strconv.FormatUint(res.LossUSD, 10),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LiquidateResponse{
		PositionID: positionID,
		Reward:     res.Reward,
		Remaining:  res.Remaining,
		Fee:        res.Fee,
		ProfitUSD:  res.ProfitUSD,
		LossUSD:    res.LossUSD,
	})
}

// RemoveCollateral handles POST /api/v1/positions/{positionID}/collateral/withdraw
func (s *Service) RemoveCollateral(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	positionID := chi.URLParam(r, "positionID")

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecords(ctx, positionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	now := time.Now().Unix()
	bands, err := s.resolveBands(ctx, rec, now)
	if err != nil {
		metrics.SettlementFailures.WithLabelValues("remove_collateral", failureReason(err)).Inc()
		writeSettlementError(w, "remove_collateral", err)
		return
	}

	res, err := s.engine.RemoveCollateral(ctx, rec, bands, req.CollateralUSD, now)
	if err != nil {
		metrics.SettlementFailures.WithLabelValues("remove_collateral", failureReason(err)).Inc()
		writeSettlementError(w, "remove_collateral", err)
		return
	}

	if err := s.persistCustodies(ctx, rec, res.Custody, res.CollateralCustody); err != nil {
		writeError(w, "failed to persist settlement", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdatePosition(ctx, &res.Position); err != nil {
		writeError(w, "failed to persist position", http.StatusInternalServerError)
		return
	}

	metrics.WithdrawalsTotal.Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "collateral_withdrawn",
			PositionID: positionID,
			PoolID:     rec.Pool.ID,
			CustodyID:  rec.CollateralCustody.ID,
			Amount:     fixedpoint.FromTokenAmount(res.Net, rec.CollateralCustody.Decimals).String(),
			Fee:        fixedpoint.FromTokenAmount(res.Fee, rec.CollateralCustody.Decimals).String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WithdrawResponse{
		PositionID:    positionID,
		Gross:         res.Gross,
		Net:           res.Net,
		Fee:           res.Fee,
		CollateralUSD: res.Position.CollateralUSD,
	})
}

// --- Feed publishing ---

// FeedPublisher accepts keeper-posted feed readings.
type FeedPublisher interface {
	SetPair(ref string, spot, ema oracle.Reading)
	SetFallback(ref string, rec oracle.FallbackRecord)
}

// FeedUpdateRequest is the JSON body for POST /api/v1/feeds/{feedRef}.
type FeedUpdateRequest struct {
	Spot     oracle.Reading         `json:"spot"`
	EMA      oracle.Reading         `json:"ema"`
	Fallback *oracle.FallbackRecord `json:"fallback,omitempty"`
}

// PublishFeed returns the handler keepers post feed readings to.
func PublishFeed(pub FeedPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "feedRef")

		var req FeedUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Spot.Price == 0 {
			writeError(w, "spot price must be positive", http.StatusBadRequest)
			return
		}

		pub.SetPair(ref, req.Spot, req.EMA)
		if req.Fallback != nil {
			pub.SetFallback(ref, *req.Fallback)
		}

		slog.Debug("feed updated", "ref", ref, "spot", req.Spot.Price, "ema", req.EMA.Price)
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Internal plumbing ---

// loadRecords reads the position and every record it references. When asset
// and collateral custody are the same record, both slots share one copy so
// the engine sees identical state through both.
func (s *Service) loadRecords(ctx context.Context, positionID string) (engine.Records, error) {
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return engine.Records{}, err
	}
	p, err := s.store.GetPool(ctx, pos.PoolID)
	if err != nil {
		return engine.Records{}, err
	}
	custody, err := s.store.GetCustody(ctx, pos.CustodyID)
	if err != nil {
		return engine.Records{}, err
	}
	collateral := custody
	if pos.CollateralCustodyID != pos.CustodyID {
		collateral, err = s.store.GetCustody(ctx, pos.CollateralCustodyID)
		if err != nil {
			return engine.Records{}, err
		}
	}
	return engine.Records{Pool: p, Position: pos, Custody: custody, CollateralCustody: collateral}, nil
}

// resolveBands turns the feed readings of both custodies into price bands.
func (s *Service) resolveBands(ctx context.Context, rec engine.Records, now int64) (engine.Bands, error) {
	assetBand, err := s.resolveBand(ctx, rec.Custody, now)
	if err != nil {
		return engine.Bands{}, err
	}
	collateralBand := assetBand
	if rec.CollateralCustody.ID != rec.Custody.ID {
		collateralBand, err = s.resolveBand(ctx, rec.CollateralCustody, now)
		if err != nil {
			return engine.Bands{}, err
		}
	}
	return engine.Bands{Asset: assetBand, Collateral: collateralBand}, nil
}

func (s *Service) resolveBand(ctx context.Context, c *model.Custody, now int64) (oracle.Band, error) {
	spot, ema, err := s.feeds.ReadPair(ctx, c.Oracle.FeedRef)
	if err != nil {
		metrics.OracleResolutions.WithLabelValues("unreadable").Inc()
		return oracle.Band{}, err
	}
	band, err := oracle.Resolve(c.Oracle, now, spot, ema, c.IsStable)
	if err != nil {
		metrics.OracleResolutions.WithLabelValues("invalid").Inc()
		return oracle.Band{}, err
	}
	if band.CloseOnly {
		metrics.OracleResolutions.WithLabelValues("close_only").Inc()
	} else {
		metrics.OracleResolutions.WithLabelValues("ok").Inc()
	}
	return band, nil
}

// loadForValuation is the shared read path of the valuation handlers.
func (s *Service) loadForValuation(w http.ResponseWriter, r *http.Request) (engine.Records, engine.Bands, bool) {
	rec, err := s.loadRecords(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeStoreError(w, err)
		return engine.Records{}, engine.Bands{}, false
	}
	bands, err := s.resolveBands(r.Context(), rec, time.Now().Unix())
	if err != nil {
		writeSettlementError(w, "valuation", err)
		return engine.Records{}, engine.Bands{}, false
	}
	return rec, bands, true
}

// poolCustodyBands loads every custody of a pool with its resolved band.
func (s *Service) poolCustodyBands(ctx context.Context, p *model.Pool, now int64) ([]*model.Custody, []oracle.Band, error) {
	listed, err := s.store.ListCustodies(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	custodies := make([]*model.Custody, 0, len(listed))
	bands := make([]oracle.Band, 0, len(listed))
	for i := range listed {
		band, err := s.resolveBand(ctx, &listed[i], now)
		if err != nil {
			return nil, nil, err
		}
		custodies = append(custodies, &listed[i])
		bands = append(bands, band)
	}
	return custodies, bands, nil
}

// persistCustodies writes the mutated custody copies back, once when asset
// and collateral are the same record.
func (s *Service) persistCustodies(ctx context.Context, rec engine.Records, asset, collateral model.Custody) error {
	if err := s.store.UpdateCustody(ctx, &collateral); err != nil {
		return err
	}
	if asset.ID != collateral.ID {
		return s.store.UpdateCustody(ctx, &asset)
	}
	return nil
}

// failureReason maps a settlement error to a low-cardinality metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInstructionNotAllowed):
		return "not_allowed"
	case errors.Is(err, engine.ErrInvalidPositionState):
		return "invalid_position_state"
	case errors.Is(err, engine.ErrCustodyAmountLimit):
		return "amount_limit"
	case errors.Is(err, engine.ErrMaxLeverage):
		return "max_leverage"
	case errors.Is(err, engine.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, engine.ErrInvalidArgument), errors.Is(err, pool.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, oracle.ErrInvalidPrice), errors.Is(err, oracle.ErrStalePrice):
		return "oracle"
	case errors.Is(err, oracle.ErrInvalidAccount):
		return "feed_unreadable"
	default:
		return "arithmetic"
	}
}

// writeSettlementError maps engine and oracle failures to HTTP statuses.
func writeSettlementError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidArgument), errors.Is(err, pool.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInstructionNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidPositionState),
		errors.Is(err, engine.ErrCustodyAmountLimit),
		errors.Is(err, engine.ErrMaxLeverage),
		errors.Is(err, engine.ErrInsufficientFunds):
		status = http.StatusConflict
	case errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrInvalidAccount):
		status = http.StatusBadGateway
	}
	slog.Warn("settlement rejected", "op", op, "err", err)
	writeError(w, err.Error(), status)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
