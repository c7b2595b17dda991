package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/outcomebook/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// Archiver copies a settled market's orders and fills to object storage as
// JSONL. Records are never removed from the ledger; the archive is a
// read-only copy for offline reconciliation.
type Archiver struct {
	ledger domain.Ledger
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates an archiver. audit may be nil.
func NewArchiver(ledger domain.Ledger, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{ledger: ledger, writer: writer, reader: reader, audit: audit}
}

// OrdersPath is the archive key of a market's orders.
func OrdersPath(marketID uint32) string {
	return fmt.Sprintf("archive/markets/%d/orders.jsonl", marketID)
}

// FillsPath is the archive key of a market's fills.
func FillsPath(marketID uint32) string {
	return fmt.Sprintf("archive/markets/%d/fills.jsonl", marketID)
}

// ArchiveMarket uploads the market's orders and fills and returns the number
// of records written. Objects that already exist are left alone, so running
// it twice writes nothing the second time. Unsettled markets are rejected
// with domain.ErrNotSettled.
func (a *Archiver) ArchiveMarket(ctx context.Context, marketID uint32) (int64, error) {
	var (
		orders []domain.Order
		fills  []domain.Fill
	)
	err := a.ledger.View(ctx, func(tx domain.Tx) error {
		m, err := tx.Market(ctx, marketID)
		if err != nil {
			return err
		}
		if !m.Settled {
			return fmt.Errorf("market %d: %w", marketID, domain.ErrNotSettled)
		}
		if orders, err = tx.OrdersByMarket(ctx, marketID); err != nil {
			return err
		}
		fills, err = tx.FillsByMarket(ctx, marketID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive market %d: %w", marketID, err)
	}

	var written int64
	n, err := upload(ctx, a, OrdersPath(marketID), orders)
	if err != nil {
		return written, err
	}
	written += n
	if n, err = upload(ctx, a, FillsPath(marketID), fills); err != nil {
		return written, err
	}
	written += n

	if a.audit != nil && written > 0 {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": marketID,
			"orders":    len(orders),
			"fills":     len(fills),
		}); err != nil {
			return written, fmt.Errorf("s3blob: archive market %d: audit: %w", marketID, err)
		}
	}
	return written, nil
}

func upload[T any](ctx context.Context, a *Archiver, path string, records []T) (int64, error) {
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal %s: %w", path, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType); err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.MarketArchiver = (*Archiver)(nil)
