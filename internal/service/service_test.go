package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/perpetua/settlement-engine/internal/engine"
	"github.com/perpetua/settlement-engine/internal/fixedpoint"
	"github.com/perpetua/settlement-engine/internal/model"
	"github.com/perpetua/settlement-engine/internal/oracle"
	"github.com/perpetua/settlement-engine/internal/pool"
	"github.com/perpetua/settlement-engine/internal/service"
	"github.com/perpetua/settlement-engine/internal/store"
)

func usd(mantissa uint64) fixedpoint.Price {
	return fixedpoint.New(mantissa, -6)
}

// newTestEnv creates a test Service with in-memory store, static feed
// reader, and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *oracle.StaticReader, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	feeds := oracle.NewStaticReader()
	eng := engine.New(pool.BasicPolicy{}, engine.NopMover{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := service.NewService(ms, feeds, eng, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/pools", svc.CreatePool)
	r.Get("/api/v1/pools/{poolID}", svc.GetPool)
	r.Post("/api/v1/pools/{poolID}/custodies", svc.CreateCustody)
	r.Get("/api/v1/pools/{poolID}/remove-liquidity", svc.GetRemoveLiquidityQuote)
	r.Post("/api/v1/positions", svc.CreatePosition)
	r.Get("/api/v1/positions", svc.ListPositions)
	r.Get("/api/v1/positions/{positionID}/exit-price", svc.GetExitPrice)
	r.Get("/api/v1/positions/{positionID}/pnl", svc.GetPnL)
	r.Post("/api/v1/positions/{positionID}/liquidate", svc.Liquidate)
	r.Post("/api/v1/positions/{positionID}/collateral/withdraw", svc.RemoveCollateral)
	r.Post("/api/v1/feeds/{feedRef}", service.PublishFeed(feeds))

	return ms, feeds, r
}

// setFeed publishes a fresh spot+EMA pair that resolves to a tight band at
// the given price in USD base units.
func setFeed(t *testing.T, feeds *oracle.StaticReader, ref string, priceUSD uint64) {
	t.Helper()
	reading := oracle.Reading{
		Price:       priceUSD,
		Exponent:    -6,
		PublishTime: time.Now().Unix(),
	}
	feeds.SetPair(ref, reading, reading)
}

func seedPool(t *testing.T, ms *store.MemoryStore, custodyIDs ...string) *model.Pool {
	t.Helper()
	p := &model.Pool{
		ID:         "pool-main",
		Name:       "main",
		CustodyIDs: custodyIDs,
		LPSupply:   100_000_000,
		Permissions: model.Permissions{
			AllowOpenPosition:         true,
			AllowClosePosition:        true,
			AllowCollateralWithdrawal: true,
			AllowRemoveLiquidity:      true,
		},
	}
	if err := ms.CreatePool(context.Background(), p); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	return p
}

func seedCustody(t *testing.T, ms *store.MemoryStore, id, feedRef string, stable bool) *model.Custody {
	t.Helper()
	c := &model.Custody{
		ID:       id,
		PoolID:   "pool-main",
		Mint:     "mint-" + id,
		Decimals: 6,
		IsStable: stable,
		Oracle: oracle.Config{
			FeedRef:                   feedRef,
			Kind:                      oracle.FeedExternal,
			MaxDifferenceThresholdBps: 100,
			MaxPriceErrorBps:          2_000,
			MaxPriceAgeSec:            300,
		},
		Fees: model.Fees{
			ClosePositionBps:   100,
			LiquidationBps:     50,
			RemoveLiquidityBps: 30,
			ProtocolShareBps:   2_000,
		},
		Pricing: model.Pricing{
			MaxLeverageBps:        200_000,
			MaxInitialLeverageBps: 50_000,
		},
		Permissions: model.Permissions{
			AllowOpenPosition:         true,
			AllowClosePosition:        true,
			AllowCollateralWithdrawal: true,
			AllowRemoveLiquidity:      true,
		},
		Assets: model.Assets{
			Owned:      100_000_000,
			Collateral: 1_000_000,
			Locked:     10_000_000,
		},
		TradeStats: model.TradeStats{OILong: 10_000_000, OIShort: 10_000_000},
	}
	if err := ms.CreateCustody(context.Background(), c); err != nil {
		t.Fatalf("failed to seed custody: %v", err)
	}
	return c
}

// seedLongPosition places a long collateralized in the traded asset itself:
// $1000 notional, $100 collateral, $100 entry.
func seedLongPosition(t *testing.T, ms *store.MemoryStore) *model.Position {
	t.Helper()
	p := &model.Position{
		ID:                  "pos-long",
		Owner:               "owner-1",
		PoolID:              "pool-main",
		CustodyID:           "custody-asset",
		CollateralCustodyID: "custody-asset",
		Side:                model.Long,
		SizeUSD:             1_000_000_000,
		CollateralUSD:       100_000_000,
		CollateralAmount:    1_000_000,
		EntryPrice:          usd(100_000_000),
		LockedAmount:        10_000_000,
	}
	if err := ms.CreatePosition(context.Background(), p); err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
	return p
}

// seedWithdrawalPosition places a small long at $1.00 entry so withdrawal
// amounts convert one-to-one.
func seedWithdrawalPosition(t *testing.T, ms *store.MemoryStore) *model.Position {
	t.Helper()
	p := &model.Position{
		ID:                  "pos-w",
		Owner:               "owner-1",
		PoolID:              "pool-main",
		CustodyID:           "custody-asset",
		CollateralCustodyID: "custody-asset",
		Side:                model.Long,
		SizeUSD:             10_000_000,
		CollateralUSD:       5_000_000,
		CollateralAmount:    5_000_000,
		EntryPrice:          usd(1_000_000),
	}
	if err := ms.CreatePosition(context.Background(), p); err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
	return p
}

func doPost(t *testing.T, router chi.Router, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Liquidation ---

func TestLiquidate_Settles(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedLongPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 94_000_000) // $94: 25x on the 20x bound

	w := doPost(t, router, "/api/v1/positions/pos-long/liquidate",
		service.LiquidateRequest{Receiver: "liquidator-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp service.LiquidateResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Reward != 53_191 {
		t.Errorf("reward = %d, want 53191", resp.Reward)
	}
	if resp.Remaining != 265_957 {
		t.Errorf("remaining = %d, want 265957", resp.Remaining)
	}
	if resp.LossUSD != 60_000_000 || resp.ProfitUSD != 0 {
		t.Errorf("pnl = (%d, %d), want (0, 60000000)", resp.ProfitUSD, resp.LossUSD)
	}

	// Position closed, custody mutations persisted.
	if _, err := ms.GetPosition(context.Background(), "pos-long"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected position to be deleted, got %v", err)
	}
	c, err := ms.GetCustody(context.Background(), "custody-asset")
	if err != nil {
		t.Fatalf("failed to reload custody: %v", err)
	}
	if c.Assets.Owned != 100_659_576 {
		t.Errorf("owned = %d, want 100659576", c.Assets.Owned)
	}
	if c.Assets.Locked != 0 {
		t.Errorf("locked = %d, want 0", c.Assets.Locked)
	}
	if c.TradeStats.OILong != 0 {
		t.Errorf("oi long = %d, want 0", c.TradeStats.OILong)
	}
}

func TestLiquidate_HealthyPositionRejected(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedLongPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 100_000_000) // flat at entry: 10x, healthy

	w := doPost(t, router, "/api/v1/positions/pos-long/liquidate",
		service.LiquidateRequest{Receiver: "liquidator-1"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for healthy position, got %d: %s", w.Code, w.Body.String())
	}

	// Nothing persisted.
	if _, err := ms.GetPosition(context.Background(), "pos-long"); err != nil {
		t.Errorf("position must survive a rejected liquidation: %v", err)
	}
}

func TestLiquidate_UnknownPosition(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/positions/pos-missing/liquidate",
		service.LiquidateRequest{Receiver: "liquidator-1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestLiquidate_MissingReceiver(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedLongPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 94_000_000)

	w := doPost(t, router, "/api/v1/positions/pos-long/liquidate",
		service.LiquidateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing receiver, got %d", w.Code)
	}
}

func TestLiquidate_StaleFeed(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedLongPosition(t, ms)

	stale := oracle.Reading{
		Price:       94_000_000,
		Exponent:    -6,
		PublishTime: time.Now().Unix() - 3_600,
	}
	feeds.SetPair("feeds-asset", stale, stale)

	w := doPost(t, router, "/api/v1/positions/pos-long/liquidate",
		service.LiquidateRequest{Receiver: "liquidator-1"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for stale feed, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Collateral withdrawal ---

func TestRemoveCollateral_Settles(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	c := seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	c.Assets.Collateral = 5_000_000
	if err := ms.UpdateCustody(context.Background(), c); err != nil {
		t.Fatalf("failed to adjust custody: %v", err)
	}
	seedWithdrawalPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 1_000_000) // $1.00

	w := doPost(t, router, "/api/v1/positions/pos-w/collateral/withdraw",
		service.WithdrawRequest{CollateralUSD: 1_000_000})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp service.WithdrawResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Gross != 1_000_000 || resp.Net != 1_000_000 || resp.Fee != 0 {
		t.Errorf("gross/net/fee = %d/%d/%d, want 1000000/1000000/0", resp.Gross, resp.Net, resp.Fee)
	}
	if resp.CollateralUSD != 4_000_000 {
		t.Errorf("collateral_usd = %d, want 4000000", resp.CollateralUSD)
	}

	pos, err := ms.GetPosition(context.Background(), "pos-w")
	if err != nil {
		t.Fatalf("failed to reload position: %v", err)
	}
	if pos.CollateralUSD != 4_000_000 || pos.CollateralAmount != 4_000_000 {
		t.Errorf("persisted collateral = %d/%d, want 4000000/4000000",
			pos.CollateralUSD, pos.CollateralAmount)
	}
	if pos.UpdateTime == 0 {
		t.Error("expected update_time to be set")
	}
	reloaded, _ := ms.GetCustody(context.Background(), "custody-asset")
	if reloaded.Assets.Collateral != 4_000_000 {
		t.Errorf("custody collateral = %d, want 4000000", reloaded.Assets.Collateral)
	}
}

func TestRemoveCollateral_ZeroAmount(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedWithdrawalPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 1_000_000)

	w := doPost(t, router, "/api/v1/positions/pos-w/collateral/withdraw",
		service.WithdrawRequest{CollateralUSD: 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero withdrawal, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRemoveCollateral_TooLeveraged(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedWithdrawalPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 1_000_000)

	// $3.50 out leaves $1.50 behind $10 notional: 6.7x, past the 5x
	// initial bound.
	w := doPost(t, router, "/api/v1/positions/pos-w/collateral/withdraw",
		service.WithdrawRequest{CollateralUSD: 3_500_000})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for over-leveraged withdrawal, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Valuation queries ---

func TestGetExitPrice(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedLongPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 100_000_000)

	w := doGet(t, router, "/api/v1/positions/pos-long/exit-price")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp service.ExitPriceResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Price != usd(100_000_000) {
		t.Errorf("price = %+v, want $100", resp.Price)
	}
	// 1% of $1000 at $100/token.
	if resp.Fee != 100_000 {
		t.Errorf("fee = %d, want 100000", resp.Fee)
	}
	if resp.PriceDisplay == "" {
		t.Error("expected non-empty price display")
	}
}

func TestGetPnL(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedLongPosition(t, ms)
	setFeed(t, feeds, "feeds-asset", 110_000_000)

	w := doGet(t, router, "/api/v1/positions/pos-long/pnl")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp model.ProfitAndLoss
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.ProfitUSD != 100_000_000 || resp.LossUSD != 0 {
		t.Errorf("pnl = %+v, want $100 profit", resp)
	}
}

func TestRemoveLiquidityQuote(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	setFeed(t, feeds, "feeds-asset", 2_000_000) // $2.00

	// AUM: 100 tokens at $2 = $200. Redeeming 10% of supply is $20, 10
	// tokens at $2, minus the 0.3% redemption fee.
	w := doGet(t, router, "/api/v1/pools/pool-main/remove-liquidity?custody=custody-asset&lp_amount=10000000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp service.RemoveLiquidityResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Fee != 30_000 {
		t.Errorf("fee = %d, want 30000", resp.Fee)
	}
	if resp.Amount != 9_970_000 {
		t.Errorf("amount = %d, want 9970000", resp.Amount)
	}
}

func TestRemoveLiquidityQuote_BadAmount(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	setFeed(t, feeds, "feeds-asset", 2_000_000)

	w := doGet(t, router, "/api/v1/pools/pool-main/remove-liquidity?custody=custody-asset&lp_amount=0")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero shares, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRemoveLiquidityQuote_ForeignCustody(t *testing.T) {
	ms, feeds, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	setFeed(t, feeds, "feeds-asset", 2_000_000)

	foreign := &model.Custody{
		ID:       "custody-foreign",
		PoolID:   "pool-other",
		Mint:     "mint-foreign",
		Decimals: 6,
	}
	if err := ms.CreateCustody(context.Background(), foreign); err != nil {
		t.Fatalf("failed to seed custody: %v", err)
	}

	// A custody outside the pool must not be quoted against a zero band.
	w := doGet(t, router, "/api/v1/pools/pool-main/remove-liquidity?custody=custody-foreign&lp_amount=10000000")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for custody outside the pool, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Feed publishing ---

func TestPublishFeed_DrivesValuation(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedLongPosition(t, ms)

	reading := oracle.Reading{
		Price:       94_000_000,
		Exponent:    -6,
		PublishTime: time.Now().Unix(),
	}
	w := doPost(t, router, "/api/v1/feeds/feeds-asset", service.FeedUpdateRequest{
		Spot: reading,
		EMA:  reading,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doGet(t, router, "/api/v1/positions/pos-long/pnl")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp model.ProfitAndLoss
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.LossUSD != 60_000_000 {
		t.Errorf("loss = %d, want 60000000", resp.LossUSD)
	}
}

func TestPublishFeed_RejectsZeroPrice(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/feeds/feeds-asset", service.FeedUpdateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero spot price, got %d", w.Code)
	}
}

// --- Record management ---

func TestCreatePoolAndCustody(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/pools", service.CreatePoolRequest{
		Name: "main",
		Permissions: model.Permissions{
			AllowClosePosition:   true,
			AllowRemoveLiquidity: true,
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p model.Pool
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.ID == "" {
		t.Fatal("expected non-empty pool id")
	}

	w = doPost(t, router, "/api/v1/pools/"+p.ID+"/custodies", service.CreateCustodyRequest{
		Mint:     "mint-usdc",
		Decimals: 6,
		IsStable: true,
		Oracle:   oracle.Config{FeedRef: "feeds-usdc", MaxPriceAgeSec: 300},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var c model.Custody
	json.Unmarshal(w.Body.Bytes(), &c)
	if c.PoolID != p.ID {
		t.Errorf("custody pool = %s, want %s", c.PoolID, p.ID)
	}

	// Membership lands on the pool record.
	w = doGet(t, router, "/api/v1/pools/"+p.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var reloaded model.Pool
	json.Unmarshal(w.Body.Bytes(), &reloaded)
	if len(reloaded.CustodyIDs) != 1 || reloaded.CustodyIDs[0] != c.ID {
		t.Errorf("custody_ids = %v, want [%s]", reloaded.CustodyIDs, c.ID)
	}
}

func TestCreateCustody_MissingOracle(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms)

	w := doPost(t, router, "/api/v1/pools/pool-main/custodies", service.CreateCustodyRequest{
		Mint: "mint-usdc",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing feed ref, got %d", w.Code)
	}
}

func TestCreateAndListPositions(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)

	w := doPost(t, router, "/api/v1/positions", service.CreatePositionRequest{
		Owner:               "owner-9",
		PoolID:              "pool-main",
		CustodyID:           "custody-asset",
		CollateralCustodyID: "custody-asset",
		Side:                "long",
		SizeUSD:             50_000_000,
		CollateralUSD:       10_000_000,
		CollateralAmount:    100_000,
		EntryPrice:          usd(100_000_000),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if pos.ID == "" || pos.OpenTime == 0 {
		t.Errorf("expected id and open_time to be set, got %+v", pos)
	}

	w = doGet(t, router, "/api/v1/positions?owner=owner-9")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 1 || positions[0].Owner != "owner-9" {
		t.Errorf("positions = %+v, want one owned by owner-9", positions)
	}
}

func TestCreatePosition_MismatchedCollateralRejected(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset", "custody-stable")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)
	seedCustody(t, ms, "custody-stable", "feeds-usdc", true)

	// A long on a non-virtual custody must post that custody as collateral.
	w := doPost(t, router, "/api/v1/positions", service.CreatePositionRequest{
		Owner:               "owner-9",
		PoolID:              "pool-main",
		CustodyID:           "custody-asset",
		CollateralCustodyID: "custody-stable",
		Side:                "long",
		SizeUSD:             50_000_000,
		CollateralUSD:       10_000_000,
		CollateralAmount:    10_000_000,
		EntryPrice:          usd(100_000_000),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for mismatched long collateral, got %d: %s", w.Code, w.Body.String())
	}

	// Shorts are collateralized in a separate asset as a matter of course.
	w = doPost(t, router, "/api/v1/positions", service.CreatePositionRequest{
		Owner:               "owner-9",
		PoolID:              "pool-main",
		CustodyID:           "custody-asset",
		CollateralCustodyID: "custody-stable",
		Side:                "short",
		SizeUSD:             50_000_000,
		CollateralUSD:       10_000_000,
		CollateralAmount:    10_000_000,
		EntryPrice:          usd(100_000_000),
	})
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201 for short with stable collateral, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePosition_InvalidSide(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "custody-asset")
	seedCustody(t, ms, "custody-asset", "feeds-asset", false)

	w := doPost(t, router, "/api/v1/positions", service.CreatePositionRequest{
		Owner:               "owner-9",
		PoolID:              "pool-main",
		CustodyID:           "custody-asset",
		CollateralCustodyID: "custody-asset",
		Side:                "sideways",
		SizeUSD:             50_000_000,
		CollateralUSD:       10_000_000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid side, got %d", w.Code)
	}
}
