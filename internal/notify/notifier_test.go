package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomebook/internal/notify"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	body  []map[string]string
	code  int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var m map[string]string
	_ = json.NewDecoder(req.Body).Decode(&m)
	r.mu.Lock()
	r.paths = append(r.paths, req.URL.Path)
	r.body = append(r.body, m)
	r.mu.Unlock()
	if r.code != 0 {
		w.WriteHeader(r.code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := notify.NewNotifier([]notify.Sender{
		notify.NewDiscordSender(srv.URL + "/hook"),
		notify.NewTelegramSender("tok", "42").WithBaseURL(srv.URL),
	}, []string{notify.EventIntegrity}, nil)

	require.NoError(t, n.Notify(ctx, notify.EventIntegrity, "ledger", "pool underflow"))
	require.NoError(t, n.Notify(ctx, notify.EventTopup, "topup", "ignored"))

	require.Len(t, rec.paths, 2)
	assert.Equal(t, "/hook", rec.paths[0])
	assert.Equal(t, "**ledger**\npool underflow", rec.body[0]["content"])
	assert.Equal(t, "/bottok/sendMessage", rec.paths[1])
	assert.Equal(t, "42", rec.body[1]["chat_id"])
}

func TestNotifierFailure(t *testing.T) {
	srv := httptest.NewServer(&recorder{code: http.StatusBadGateway})
	defer srv.Close()

	n := notify.NewNotifier([]notify.Sender{notify.NewDiscordSender(srv.URL)}, nil, nil)
	err := n.Notify(context.Background(), notify.EventTopup, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord")
	assert.Contains(t, err.Error(), "502")

	var none *notify.Notifier
	assert.NoError(t, none.Notify(context.Background(), notify.EventIntegrity, "t", "m"))
}
