package s3blob_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/outcomebook/internal/blob/s3"
	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/exchangetest"
	"github.com/alanyoungcy/outcomebook/internal/store/memory"
)

// bucket is an in-memory domain.BlobWriter and domain.BlobReader.
type bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newBucket() *bucket { return &bucket{objects: make(map[string][]byte)} }

func (b *bucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *bucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *bucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *bucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (b *bucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func TestArchiveMarket(t *testing.T) {
	ctx := context.Background()
	x := exchangetest.New(t, exchangetest.Options{})
	x.CreateMarket(t, 1, "1", "2")
	x.Fund(t, exchangetest.X, 10_000_000)
	x.Fund(t, exchangetest.Y, 10_000_000)
	yes := x.Place(t, exchangetest.X, domain.SideBuyYes, "1", 300_000, 4)
	no := x.Place(t, exchangetest.Y, domain.SideBuyNo, "1", 700_000, 4)
	require.NoError(t, x.Match(t, yes.ID, no.ID).Err)
	x.Place(t, exchangetest.X, domain.SideBuyYes, "2", 100_000, 1)

	b := newBucket()
	audit := memory.NewAuditStore()
	a := s3blob.NewArchiver(x.Ledger, b, b, audit)

	_, err := a.ArchiveMarket(ctx, 1)
	require.ErrorIs(t, err, domain.ErrNotSettled)
	_, err = a.ArchiveMarket(ctx, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)

	x.Settle(t, 1, []domain.OutcomeID{"1", "2"}, []int64{1, 0}, 1)
	n, err := a.ArchiveMarket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	rc, err := b.Get(ctx, s3blob.OrdersPath(1))
	require.NoError(t, err)
	defer rc.Close()
	var ids []uint64
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		var o domain.Order
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		ids = append(ids, o.ID)
	}
	assert.Len(t, ids, 3)

	fills, err := b.Get(ctx, s3blob.FillsPath(1))
	require.NoError(t, err)
	raw, err := io.ReadAll(fills)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(raw, []byte("\n")))

	// second run finds both objects and writes nothing
	n, err = a.ArchiveMarket(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, b.puts)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.market", entries[0].Event)
}
