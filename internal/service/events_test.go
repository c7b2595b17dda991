package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/metrics"
	"github.com/alanyoungcy/outcomebook/internal/notify"
)

func TestEmitterIntegrity(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := metrics.New()
	e := newEmitter(Outputs{
		Metrics:  m,
		Notifier: notify.NewNotifier([]notify.Sender{notify.NewDiscordSender(srv.URL)}, nil, nil),
	}, "batch_service")

	ctx := context.Background()
	assert.False(t, e.integrity(ctx, "limit taker 1", domain.ErrOrderClosed))
	assert.True(t, e.integrity(ctx, "limit taker 2", fmt.Errorf("fill: %w", domain.ErrIntegrity)))
	assert.Equal(t, int32(1), hits.Load())

	const want = `
# HELP outcomebook_integrity_violations_total Transactions aborted by a broken ledger invariant
# TYPE outcomebook_integrity_violations_total counter
outcomebook_integrity_violations_total{component="batch_service"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "outcomebook_integrity_violations_total"))
}

func TestEmitterWithoutOutputs(t *testing.T) {
	e := newEmitter(Outputs{}, "order_service")
	ctx := context.Background()
	e.publish(ctx, domain.ChannelOrders, "order_placed", nil)
	e.record(ctx, "x", nil)
	e.alert(ctx, notify.EventTopup, "t", "m")
	assert.True(t, e.integrity(ctx, "submit", domain.ErrIntegrity))
}
