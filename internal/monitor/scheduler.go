package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leverfi/leverbot/internal/domain"
)

// PriceFetcher returns the current price of a token in quote-currency
// terms. It is satisfied by the aggregator gateway.
type PriceFetcher interface {
	TokenPrice(ctx context.Context, chainID int64, token, quoteToken string, quoteDecimals int) (float64, error)
}

// Closer executes the atomic close of a position. triggerPrice is the
// price that tripped the threshold, zero for timeouts; the closer settles
// at its own execution price.
type Closer interface {
	Close(ctx context.Context, positionID string, reason domain.CloseReason, triggerPrice float64) error
}

// Config carries scheduler settings from the position config section.
type Config struct {
	Interval      time.Duration
	ChainID       int64
	QuoteToken    string
	QuoteDecimals int
}

// Scheduler runs one evaluation loop per registered open position. Each
// loop re-reads the position, checks timeout before fetching a price, and
// hands any tripped threshold to the Closer. Deregistration cancels the
// loop's context, so a stopped position is never re-evaluated.
type Scheduler struct {
	store  domain.PositionStore
	prices PriceFetcher
	closer Closer
	cfg    Config
	log    *slog.Logger

	mu       sync.Mutex
	watched  map[string]context.CancelFunc
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler. Closer is set later via SetCloser to
// break the construction cycle with the position service.
func NewScheduler(store domain.PositionStore, prices PriceFetcher, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &Scheduler{
		store:    store,
		prices:   prices,
		cfg:      cfg,
		log:      log.With("component", "monitor"),
		watched:  make(map[string]context.CancelFunc),
		inflight: make(map[string]struct{}),
	}
}

// SetCloser wires the close executor. Must be called before Start.
func (s *Scheduler) SetCloser(c Closer) { s.closer = c }

// Start registers a position for periodic evaluation. Registering an
// already-watched id is a no-op.
func (s *Scheduler) Start(ctx context.Context, positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[positionID]; ok {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.watched[positionID] = cancel

	s.wg.Add(1)
	go s.run(loopCtx, positionID)
	s.log.Info("monitoring started", "position_id", positionID)
}

// Stop deregisters a position. Effective immediately: the loop's context
// is cancelled before the next tick can fire.
func (s *Scheduler) Stop(positionID string) {
	s.mu.Lock()
	cancel, ok := s.watched[positionID]
	if ok {
		delete(s.watched, positionID)
	}
	s.mu.Unlock()

	if ok {
		cancel()
		s.log.Info("monitoring stopped", "position_id", positionID)
	}
}

// Watching reports whether a position is currently registered.
func (s *Scheduler) Watching(positionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watched[positionID]
	return ok
}

// Resume registers every open position from the store. Called once at
// startup so monitoring survives restarts.
func (s *Scheduler) Resume(ctx context.Context) error {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	for i := range open {
		s.Start(ctx, open[i].ID)
	}
	s.log.Info("monitoring resumed", "positions", len(open))
	return nil
}

// Shutdown stops all loops and waits for in-flight evaluations to finish.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id, cancel := range s.watched {
		cancel()
		delete(s.watched, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, positionID string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := s.tick(ctx, positionID); done {
				s.Stop(positionID)
				return
			}
		}
	}
}

// tick runs one evaluation. It returns true when the position has left
// the open state and the loop should end.
func (s *Scheduler) tick(ctx context.Context, positionID string) bool {
	pos, err := s.store.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("watched position vanished", "position_id", positionID)
			return true
		}
		s.log.Error("position read failed", "position_id", positionID, "error", err)
		return false
	}
	if pos.Status != domain.PositionStatusOpen {
		return true
	}

	// Timeout takes effect regardless of price availability, so it is
	// checked before the price fetch.
	if pos.TimedOut(time.Now()) {
		s.tryClose(ctx, positionID, domain.CloseReasonTimeout, 0)
		return false
	}

	price, err := s.prices.TokenPrice(ctx, s.cfg.ChainID, pos.TokenAddress, s.cfg.QuoteToken, s.cfg.QuoteDecimals)
	if err != nil {
		// Transient upstream failure: stay registered, retry next tick.
		s.log.Warn("price fetch failed", "position_id", positionID, "token", pos.TokenAddress, "error", err)
		return false
	}

	if reason, trip := Evaluate(&pos, price); trip {
		s.tryClose(ctx, positionID, reason, price)
	}
	return false
}

// tryClose runs the close unless one is already in flight for this id.
// The in-process set is the fast path; the closer holds the distributed
// lock and the store applies the final conditional update.
func (s *Scheduler) tryClose(ctx context.Context, positionID string, reason domain.CloseReason, price float64) {
	s.mu.Lock()
	if _, busy := s.inflight[positionID]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[positionID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, positionID)
		s.mu.Unlock()
	}()

	s.log.Info("close triggered", "position_id", positionID, "reason", reason, "price", price)

	if err := s.closer.Close(ctx, positionID, reason, price); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			// Lost the race to a concurrent trigger; the loop will observe
			// the terminal status on its next read.
			return
		}
		// Leave the position open; the next tick retries.
		s.log.Error("close failed", "position_id", positionID, "reason", reason, "error", err)
	}
}
