package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverfi/leverbot/internal/domain"
	"github.com/leverfi/leverbot/internal/gateway/zeroex"
)

const (
	testWallet = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testWETH   = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	testUSDC   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemPositionStore(positions ...domain.Position) *memPositionStore {
	s := &memPositionStore{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	return s
}

func (s *memPositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *memPositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *memPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) GetOpenByWalletToken(_ context.Context, wallet, token string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		live := p.Status == domain.PositionStatusPending || p.Status == domain.PositionStatusOpen
		if live && p.Wallet == wallet && p.TokenAddress == token {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *memPositionStore) MarkOpen(_ context.Context, id, openTxHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != domain.PositionStatusPending {
		return domain.ErrStateConflict
	}
	pos.Status = domain.PositionStatusOpen
	pos.OpenTxHash = openTxHash
	s.positions[id] = pos
	return nil
}

func (s *memPositionStore) Close(_ context.Context, id string, patch domain.ClosePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return false, nil
	}
	pos.Status = patch.Status
	pos.ExitPrice = &patch.ExitPrice
	pos.RealizedPnL = patch.RealizedPnL
	pos.CloseTxHash = patch.CloseTxHash
	closedAt := patch.ClosedAt
	pos.ClosedAt = &closedAt
	s.positions[id] = pos
	return true, nil
}

func (s *memPositionStore) ListOpen(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen {
			open = append(open, p)
		}
	}
	return open, nil
}

func (s *memPositionStore) ListByWallet(_ context.Context, wallet string, statuses []domain.PositionStatus, _ domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Wallet != wallet {
			continue
		}
		for _, st := range statuses {
			if p.Status == st {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (s *memPositionStore) ListTerminal(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type fakeUserStore struct {
	mu  sync.Mutex
	pnl map[string]float64
}

func (f *fakeUserStore) GetOrCreate(_ context.Context, wallet string) (domain.User, error) {
	return domain.User{WalletAddress: wallet}, nil
}

func (f *fakeUserStore) Get(_ context.Context, wallet string) (domain.User, error) {
	return domain.User{WalletAddress: wallet}, nil
}

func (f *fakeUserStore) AddPnL(_ context.Context, wallet string, delta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pnl == nil {
		f.pnl = make(map[string]float64)
	}
	f.pnl[wallet] += delta
	return nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (f *fakeTradeStore) Create(_ context.Context, trade domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeTradeStore) ListByPosition(_ context.Context, positionID string) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Trade
	for _, tr := range f.trades {
		if tr.PositionID == positionID {
			out = append(out, tr)
		}
	}
	return out, nil
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeSignalBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (f *fakeSignalBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeSignalBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (f *fakeSignalBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed = append(f.streamed, payload)
	return nil
}

func (f *fakeSignalBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (f *fakeSignalBus) lastPublished(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(f.published[len(f.published)-1], &payload))
	return payload
}

// fakeLockManager behaves like the redis implementation: one holder per
// key, second acquirer rejected with ErrLockHeld.
type fakeLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func (f *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		delete(f.held, key)
		f.mu.Unlock()
	}, nil
}

type stubGateway struct {
	mu        sync.Mutex
	price     float64
	priceErr  error
	quote     zeroex.QuoteResponse
	quoteErr  error
	lastQuote zeroex.SwapParams
}

func (g *stubGateway) Price(_ context.Context, _ zeroex.SwapParams) (zeroex.PriceResponse, error) {
	return g.quote.PriceResponse, nil
}

func (g *stubGateway) Quote(_ context.Context, params zeroex.SwapParams) (zeroex.QuoteResponse, error) {
	g.mu.Lock()
	g.lastQuote = params
	g.mu.Unlock()
	if g.quoteErr != nil {
		return zeroex.QuoteResponse{}, g.quoteErr
	}
	return g.quote, nil
}

func (g *stubGateway) TokenPrice(context.Context, int64, string, string, int) (float64, error) {
	if g.priceErr != nil {
		return 0, g.priceErr
	}
	return g.price, nil
}

type recordWatcher struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (w *recordWatcher) Start(_ context.Context, positionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = append(w.started, positionID)
}

func (w *recordWatcher) Stop(positionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = append(w.stopped, positionID)
}

type stubBroadcaster struct {
	txHash  string
	err     error
	waitErr error
}

func (b *stubBroadcaster) Address() common.Address {
	return common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
}

func (b *stubBroadcaster) Broadcast(context.Context, common.Address, []byte, *big.Int, uint64, *big.Int) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.txHash, nil
}

func (b *stubBroadcaster) WaitMined(context.Context, string) (*types.Receipt, error) {
	if b.waitErr != nil {
		return nil, b.waitErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

// ctxBoundBus rejects work once its context is done, like the redis bus.
type ctxBoundBus struct {
	fakeSignalBus
}

func (f *ctxBoundBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fakeSignalBus.Publish(ctx, channel, payload)
}

func (f *ctxBoundBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fakeSignalBus.StreamAppend(ctx, stream, payload)
}

// stopCancelWatcher cancels its context on Stop, the way the scheduler
// tears down a position's monitoring loop.
type stopCancelWatcher struct {
	recordWatcher
	cancel context.CancelFunc
}

func (w *stopCancelWatcher) Stop(positionID string) {
	w.cancel()
	w.recordWatcher.Stop(positionID)
}

type testDeps struct {
	users   *fakeUserStore
	store   *memPositionStore
	trades  *fakeTradeStore
	audit   *fakeAuditStore
	bus     *fakeSignalBus
	locks   *fakeLockManager
	gateway *stubGateway
	watcher *recordWatcher
	wallet  *stubBroadcaster
}

func defaultSettings() Settings {
	return Settings{
		ConfirmFlow:        true,
		ChainID:            1,
		CollateralToken:    testUSDC,
		CollateralDecimals: 6,
		QuoteToken:         testUSDC,
		QuoteTokenDecimals: 6,
		MaxLeverage:        10,
	}
}

func newTestService(settings Settings, mutate func(*testDeps)) (*PositionService, *testDeps) {
	deps := &testDeps{
		users:  &fakeUserStore{},
		store:  newMemPositionStore(),
		trades: &fakeTradeStore{},
		audit:  &fakeAuditStore{},
		bus:    &fakeSignalBus{},
		locks:  &fakeLockManager{},
		gateway: &stubGateway{
			price: 100,
			quote: zeroex.QuoteResponse{
				PriceResponse: zeroex.PriceResponse{
					LiquidityAvailable: true,
					BuyAmount:          "50000000000000000000",
					SellAmount:         "5000000000",
				},
				Transaction: &zeroex.Transaction{
					To:       "0xDef1C0ded9bec7F1a1670819833240f027b25EfF",
					Data:     "0xdeadbeef",
					Gas:      "210000",
					GasPrice: "20000000000",
					Value:    "0",
				},
			},
		},
		watcher: &recordWatcher{},
	}
	if mutate != nil {
		mutate(deps)
	}

	var wallet Broadcaster
	if deps.wallet != nil {
		wallet = deps.wallet
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewPositionService(deps.users, deps.store, deps.trades, deps.audit,
		deps.bus, deps.locks, deps.gateway, wallet, deps.watcher, settings, log)
	return svc, deps
}

func validOpenRequest() OpenRequest {
	tp := 110.0
	sl := 90.0
	return OpenRequest{
		Wallet:       testWallet,
		TokenAddress: testWETH,
		Decimals:     18,
		Collateral:   1000,
		Leverage:     5,
		Direction:    domain.DirectionLong,
		TakeProfit:   &tp,
		StopLoss:     &sl,
	}
}

func seedOpen(store *memPositionStore, id string) domain.Position {
	tp := 110.0
	sl := 90.0
	pos := domain.Position{
		ID:               id,
		Wallet:           testWallet,
		TokenAddress:     testWETH,
		OpenedAt:         time.Now().UTC(),
		Collateral:       1000,
		TokenAmount:      50,
		Decimals:         18,
		TakeProfit:       &tp,
		StopLoss:         &sl,
		Status:           domain.PositionStatusOpen,
		Leverage:         5,
		Direction:        domain.DirectionLong,
		LiquidationPrice: 80,
		EntryPrice:       100,
		OpenTxHash:       "0xopen",
	}
	store.positions[pos.ID] = pos
	return pos
}

func TestOpenValidation(t *testing.T) {
	svc, _ := newTestService(defaultSettings(), nil)

	testCases := []struct {
		name      string
		mutate    func(*OpenRequest)
		wantField string
	}{
		{"empty wallet", func(r *OpenRequest) { r.Wallet = "" }, "wallet"},
		{"empty token", func(r *OpenRequest) { r.TokenAddress = "" }, "tokenAddress"},
		{"zero collateral", func(r *OpenRequest) { r.Collateral = 0 }, "collateral"},
		{"negative collateral", func(r *OpenRequest) { r.Collateral = -5 }, "collateral"},
		{"leverage below one", func(r *OpenRequest) { r.Leverage = 0.5 }, "leverage"},
		{"leverage above max", func(r *OpenRequest) { r.Leverage = 11 }, "leverage"},
		{"bad direction", func(r *OpenRequest) { r.Direction = "sideways" }, "direction"},
		{"negative timeout", func(r *OpenRequest) { r.TimeoutSec = -1 }, "timeoutSec"},
		{"zero decimals", func(r *OpenRequest) { r.Decimals = 0 }, "decimals"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := validOpenRequest()
			tc.mutate(&req)

			_, err := svc.Open(context.Background(), req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.wantField, verr.Field)
		})
	}
}

func TestOpenConfirmFlow(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), nil)

	res, err := svc.Open(context.Background(), validOpenRequest())
	require.NoError(t, err)

	pos := res.Position
	assert.Equal(t, domain.PositionStatusPending, pos.Status)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 80.0, pos.LiquidationPrice)
	assert.Equal(t, 50.0, pos.TokenAmount)
	require.NotNil(t, res.Quote)

	// The quote sells the full notional of collateral for the target token.
	assert.Equal(t, testUSDC, deps.gateway.lastQuote.SellToken)
	assert.Equal(t, testWETH, deps.gateway.lastQuote.BuyToken)
	assert.Equal(t, "5000000000", deps.gateway.lastQuote.SellAmount)
	assert.Equal(t, testWallet, deps.gateway.lastQuote.Taker)

	// Pending positions are persisted but not yet monitored or traded.
	stored, err := deps.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, stored.Status)
	assert.Empty(t, deps.watcher.started)
	assert.Empty(t, deps.trades.trades)
	assert.Equal(t, []string{"position_created"}, deps.audit.events)
}

func TestOpenRejectsSecondLivePosition(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), nil)
	seedOpen(deps.store, "pos-live")

	_, err := svc.Open(context.Background(), validOpenRequest())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestOpenDirectBroadcasts(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xabc123"}
	})

	res, err := svc.Open(context.Background(), validOpenRequest())
	require.NoError(t, err)

	pos := res.Position
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "0xabc123", pos.OpenTxHash)
	assert.Nil(t, res.Quote)

	// Direct mode trades through the service wallet, not the user's.
	assert.Equal(t, deps.wallet.Address().Hex(), deps.gateway.lastQuote.Taker)

	assert.Equal(t, []string{pos.ID}, deps.watcher.started)
	require.Len(t, deps.trades.trades, 1)
	assert.Equal(t, domain.TradeTypeBuy, deps.trades.trades[0].Type)

	payload := deps.bus.lastPublished(t)
	assert.Equal(t, "position_opened", payload["event"])
}

func TestOpenDirectPersistsBeforeConfirmation(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xabc123", waitErr: errors.New("tx wait timed out")}
	})

	_, err := svc.Open(context.Background(), validOpenRequest())
	require.Error(t, err)

	// The swap was broadcast, so the position must survive the failed
	// confirmation wait as pending with its hash and buy trade recorded.
	pos, err := deps.store.GetOpenByWalletToken(context.Background(), testWallet, testWETH)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, pos.Status)
	assert.Equal(t, "0xabc123", pos.OpenTxHash)
	require.Len(t, deps.trades.trades, 1)
	assert.Equal(t, domain.TradeTypeBuy, deps.trades.trades[0].Type)

	// Monitoring and the opened event wait for confirmation.
	assert.Empty(t, deps.watcher.started)
	assert.Empty(t, deps.bus.published)
}

func TestOpenDirectWithoutWallet(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, _ := newTestService(settings, nil)

	_, err := svc.Open(context.Background(), validOpenRequest())
	var cerr *domain.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestConfirmOpen(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), nil)

	res, err := svc.Open(context.Background(), validOpenRequest())
	require.NoError(t, err)

	pos, err := svc.ConfirmOpen(context.Background(), res.Position.ID, "0xopen1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "0xopen1", pos.OpenTxHash)

	assert.Equal(t, []string{pos.ID}, deps.watcher.started)
	require.Len(t, deps.trades.trades, 1)
	assert.Equal(t, domain.TradeTypeBuy, deps.trades.trades[0].Type)
	payload := deps.bus.lastPublished(t)
	assert.Equal(t, "position_opened", payload["event"])
}

func TestConfirmOpenRequiresTxHash(t *testing.T) {
	svc, _ := newTestService(defaultSettings(), nil)

	_, err := svc.ConfirmOpen(context.Background(), "pos-1", "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "txHash", verr.Field)
}

func TestConfirmOpenTwiceConflicts(t *testing.T) {
	svc, _ := newTestService(defaultSettings(), nil)

	res, err := svc.Open(context.Background(), validOpenRequest())
	require.NoError(t, err)

	_, err = svc.ConfirmOpen(context.Background(), res.Position.ID, "0xopen1")
	require.NoError(t, err)

	_, err = svc.ConfirmOpen(context.Background(), res.Position.ID, "0xopen2")
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestCloseQuote(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), nil)
	pos := seedOpen(deps.store, "pos-1")

	quote, err := svc.CloseQuote(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.NotNil(t, quote.Transaction)

	// The close side sells the position's tokens back to collateral.
	assert.Equal(t, testWETH, deps.gateway.lastQuote.SellToken)
	assert.Equal(t, testUSDC, deps.gateway.lastQuote.BuyToken)
	assert.Equal(t, "50000000000000000000", deps.gateway.lastQuote.SellAmount)
}

func TestCloseQuoteNonOpen(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), nil)
	pos := seedOpen(deps.store, "pos-1")
	pos.Status = domain.PositionStatusClosed
	deps.store.positions[pos.ID] = pos

	_, err := svc.CloseQuote(context.Background(), pos.ID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestConfirmClose(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), nil)
	pos := seedOpen(deps.store, "pos-1")

	closed, err := svc.ConfirmClose(context.Background(), pos.ID, "0xclose", 110)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.Equal(t, 110.0, *closed.ExitPrice)
	// long: (110 - 100) * 1000 * 5
	assert.Equal(t, 50000.0, closed.RealizedPnL)
	assert.Equal(t, "0xclose", closed.CloseTxHash)

	assert.Equal(t, []string{pos.ID}, deps.watcher.stopped)
	assert.Equal(t, 50000.0, deps.users.pnl[testWallet])
	require.Len(t, deps.trades.trades, 1)
	assert.Equal(t, domain.TradeTypeSell, deps.trades.trades[0].Type)

	payload := deps.bus.lastPublished(t)
	assert.Equal(t, "position_closed", payload["event"])
	assert.Equal(t, "manual", payload["reason"])
	assert.Equal(t, 110.0, payload["exit_price"])
	assert.Equal(t, 50000.0, payload["pnl"])
}

func TestConfirmCloseValidation(t *testing.T) {
	svc, _ := newTestService(defaultSettings(), nil)

	_, err := svc.ConfirmClose(context.Background(), "pos-1", "", 110)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "txHash", verr.Field)

	_, err = svc.ConfirmClose(context.Background(), "pos-1", "0xclose", 0)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "exitPrice", verr.Field)
}

func TestFinalizeCloseLiquidation(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), nil)
	pos := seedOpen(deps.store, "pos-1")

	closed, err := svc.finalizeClose(context.Background(), pos.ID, domain.CloseReasonLiquidation, "0xliq", 80)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusLiquidated, closed.Status)
	// long: (80 - 100) * 5000
	assert.Equal(t, -100000.0, closed.RealizedPnL)

	payload := deps.bus.lastPublished(t)
	assert.Equal(t, "position_liquidated", payload["event"])
	assert.Equal(t, "liquidation", payload["reason"])
}

func TestCloseDirect(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xclose"}
		// 5500 USDC received for 50 tokens: exit price 110.
		d.gateway.quote.BuyAmount = "5500000000"
	})
	pos := seedOpen(deps.store, "pos-1")

	require.NoError(t, svc.Close(context.Background(), pos.ID, domain.CloseReasonTakeProfit, 110.5))

	closed, err := deps.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.InDelta(t, 110.0, *closed.ExitPrice, 1e-9)
	assert.Equal(t, "0xclose", closed.CloseTxHash)
	assert.Equal(t, []string{pos.ID}, deps.watcher.stopped)
}

func TestCloseExecutesInConfirmFlow(t *testing.T) {
	// Opens are caller-executed in confirm flow, but triggered closes
	// still go through the service wallet.
	svc, deps := newTestService(defaultSettings(), func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xclose"}
		// 4500 USDC received for 50 tokens: exit price 90.
		d.gateway.quote.BuyAmount = "4500000000"
	})
	pos := seedOpen(deps.store, "pos-1")

	require.NoError(t, svc.Close(context.Background(), pos.ID, domain.CloseReasonStopLoss, 90))

	closed, err := deps.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, "0xclose", closed.CloseTxHash)
	assert.Equal(t, deps.wallet.Address().Hex(), deps.gateway.lastQuote.Taker)
}

func TestCloseKeepsEventsAfterWatcherStop(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false

	// The scheduler runs a close on the loop context that stopping the
	// watcher cancels. Events and the audit entry must still land.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xclose"}
		// 6000 USDC received for 50 tokens: exit price 120.
		d.gateway.quote.BuyAmount = "6000000000"
	})
	bus := &ctxBoundBus{}
	watcher := &stopCancelWatcher{cancel: cancel}
	svc := NewPositionService(deps.users, deps.store, deps.trades, deps.audit,
		bus, deps.locks, deps.gateway, deps.wallet, watcher, settings,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	pos := seedOpen(deps.store, "pos-1")

	require.NoError(t, svc.Close(ctx, pos.ID, domain.CloseReasonTakeProfit, 120))
	assert.Equal(t, []string{pos.ID}, watcher.stopped)

	closed, err := deps.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)

	payload := bus.lastPublished(t)
	assert.Equal(t, "position_closed", payload["event"])
	assert.Equal(t, "tp", payload["reason"])
	require.Len(t, deps.trades.trades, 1)
	assert.Equal(t, domain.TradeTypeSell, deps.trades.trades[0].Type)
	assert.Contains(t, deps.audit.events, "position_closed")
}

func TestCloseNonOpenConflicts(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xclose"}
	})
	pos := seedOpen(deps.store, "pos-1")
	pos.Status = domain.PositionStatusClosed
	deps.store.positions[pos.ID] = pos

	err := svc.Close(context.Background(), pos.ID, domain.CloseReasonStopLoss, 90)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestCloseLockHeldConflicts(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xclose"}
	})
	pos := seedOpen(deps.store, "pos-1")

	unlock, err := deps.locks.Acquire(context.Background(), "close:"+pos.ID, time.Minute)
	require.NoError(t, err)
	defer unlock()

	err = svc.Close(context.Background(), pos.ID, domain.CloseReasonStopLoss, 90)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestCloseConcurrentOneWinner(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xclose"}
		d.gateway.quote.BuyAmount = "5500000000"
	})
	pos := seedOpen(deps.store, "pos-1")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- svc.Close(context.Background(), pos.ID, domain.CloseReasonTakeProfit, 110)
		}()
	}

	var succeeded, conflicted int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrStateConflict):
			conflicted++
		default:
			t.Fatalf("unexpected close error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	closed, err := deps.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	// Exactly one sell trade despite two triggers.
	assert.Len(t, deps.trades.trades, 1)
}

func TestCheckNonOpenReportsStatusOnly(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), func(d *testDeps) {
		d.gateway.priceErr = errors.New("should not be called")
	})
	pos := seedOpen(deps.store, "pos-1")
	pos.Status = domain.PositionStatusPending
	deps.store.positions[pos.ID] = pos

	res, err := svc.Check(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, res.Status)
	assert.False(t, res.Triggered)
	assert.Zero(t, res.Price)
}

func TestCheckTimeoutBeforePrice(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), func(d *testDeps) {
		d.gateway.priceErr = errors.New("should not be called")
	})
	pos := seedOpen(deps.store, "pos-1")
	pos.TimeoutSec = 60
	pos.OpenedAt = time.Now().Add(-2 * time.Minute)
	deps.store.positions[pos.ID] = pos

	res, err := svc.Check(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, domain.CloseReasonTimeout, res.Reason)
}

func TestCheckTriggersTakeProfit(t *testing.T) {
	svc, deps := newTestService(defaultSettings(), func(d *testDeps) {
		d.gateway.price = 115
	})
	pos := seedOpen(deps.store, "pos-1")

	res, err := svc.Check(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, domain.CloseReasonTakeProfit, res.Reason)
	assert.Equal(t, 115.0, res.Price)
}

func TestCheckAllClosesTriggered(t *testing.T) {
	settings := defaultSettings()
	settings.ConfirmFlow = false
	svc, deps := newTestService(settings, func(d *testDeps) {
		d.wallet = &stubBroadcaster{txHash: "0xclose"}
		d.gateway.price = 115
		d.gateway.quote.BuyAmount = "5750000000"
	})
	seedOpen(deps.store, "pos-trip")
	calm := seedOpen(deps.store, "pos-calm")
	calm.TakeProfit = nil
	calm.StopLoss = nil
	deps.store.positions[calm.ID] = calm

	res, err := svc.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Closed)
	assert.Len(t, res.Results, 2)

	closed, err := deps.store.GetByID(context.Background(), "pos-trip")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)

	still, err := deps.store.GetByID(context.Background(), "pos-calm")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, still.Status)
}

func TestListRequiresWallet(t *testing.T) {
	svc, _ := newTestService(defaultSettings(), nil)

	_, err := svc.List(context.Background(), "", nil, domain.ListOpts{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}
