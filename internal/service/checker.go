package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leverfi/leverbot/internal/domain"
)

// checkAllConcurrency bounds how many positions one batch evaluates at a
// time.
const checkAllConcurrency = 8

// CheckAllResult summarizes one batch evaluation.
type CheckAllResult struct {
	Checked int           `json:"checked"`
	Closed  int           `json:"closed"`
	Results []CheckResult `json:"results"`
}

// CheckAll evaluates every open position concurrently and closes the ones
// whose thresholds tripped. It is the entry point for the external cron
// scheduler. Individual evaluation failures are logged and skipped, not
// propagated: one unreachable price feed must not fail the whole batch.
func (s *PositionService) CheckAll(ctx context.Context) (CheckAllResult, error) {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return CheckAllResult{}, fmt.Errorf("position_service: check all: %w", err)
	}

	var (
		mu     sync.Mutex
		result = CheckAllResult{Checked: len(open)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkAllConcurrency)

	for i := range open {
		pos := open[i]
		g.Go(func() error {
			res, err := s.Check(gctx, pos.ID)
			if err != nil {
				s.logger.WarnContext(gctx, "position_service: check failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}

			closed := false
			if res.Triggered {
				err := s.Close(gctx, pos.ID, res.Reason, res.Price)
				switch {
				case err == nil:
					closed = true
				case errors.Is(err, domain.ErrStateConflict):
					// Another trigger got there first.
				default:
					s.logger.ErrorContext(gctx, "position_service: triggered close failed",
						slog.String("position_id", pos.ID),
						slog.String("reason", string(res.Reason)),
						slog.String("error", err.Error()),
					)
				}
			}

			mu.Lock()
			result.Results = append(result.Results, res)
			if closed {
				result.Closed++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("position_service: check all: %w", err)
	}
	return result, nil
}
