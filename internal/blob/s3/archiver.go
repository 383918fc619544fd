package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/leverfi/leverbot/internal/domain"
)

// archiveBatchLimit caps how many positions one archival run exports.
const archiveBatchLimit = 10_000

// Archiver implements domain.Archiver by exporting terminal positions to
// JSONL files in object storage. Each run covers the window since the
// previous successful run; the first run exports the full history.
//
// The archived rows are NOT deleted from the primary store. Pruning is a
// separate, explicit step after the archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	positions domain.PositionStore
	trades    domain.TradeStore
	audit     domain.AuditStore

	mu    sync.Mutex
	since time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, positions domain.PositionStore, trades domain.TradeStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		trades:    trades,
		audit:     audit,
	}
}

// archivedPosition is the export row: the position plus its fills.
type archivedPosition struct {
	Position domain.Position `json:"position"`
	Trades   []domain.Trade  `json:"trades,omitempty"`
}

// ArchiveClosedPositions exports positions that reached a terminal state
// since the last run, serialized as JSONL and uploaded under a dated key.
// It returns the number of positions archived.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()

	opts := domain.ListOpts{Limit: archiveBatchLimit, Until: &now}
	if !a.since.IsZero() {
		since := a.since
		opts.Since = &since
	}

	positions, err := a.positions.ListTerminal(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(positions) == 0 {
		a.since = now
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, pos := range positions {
		row := archivedPosition{Position: pos}
		trades, err := a.trades.ListByPosition(ctx, pos.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive trades for %s: %w", pos.ID, err)
		}
		row.Trades = trades
		if err := enc.Encode(row); err != nil {
			return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
		}
	}

	key := archiveKey(now)
	if err := a.writer.Write(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	a.since = now

	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"key":   key,
		"count": len(positions),
		"until": now.Format(time.RFC3339),
	}); err != nil {
		return len(positions), fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return len(positions), nil
}

// archiveKey builds the object key for one archival run.
//
//	archive/positions/2025-09/20250901T120000Z.jsonl
func archiveKey(at time.Time) string {
	return fmt.Sprintf("archive/positions/%s/%s.jsonl",
		at.Format("2006-01"), at.Format("20060102T150405Z"))
}
