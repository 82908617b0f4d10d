package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysearch/internal/cluster"
)

// controlRecorder is a fake worker control endpoint.
type controlRecorder struct {
	mu   sync.Mutex
	msgs []cluster.ControlMessage
}

func (c *controlRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control", r.URL.Path)
		var m cluster.ControlMessage
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&m)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.msgs = append(c.msgs, m)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *controlRecorder) received() []cluster.ControlMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cluster.ControlMessage(nil), c.msgs...)
}

func TestBroadcasterStartAndAbort(t *testing.T) {
	var a, b controlRecorder
	r := NewRegistry(2)
	_, _ = r.Register(cluster.WorkerInfo{ID: "w1", Addr: a.server(t).URL})
	_, _ = r.Register(cluster.WorkerInfo{ID: "w2", Addr: b.server(t).URL + "/"})

	bc := NewHTTPBroadcaster(r, time.Second, quietLogger())
	ct := []byte("0123456789abcdef")
	require.NoError(t, bc.Start(context.Background(), ct))

	for _, rec := range []*controlRecorder{&a, &b} {
		msgs := rec.received()
		require.Len(t, msgs, 1)
		assert.Equal(t, cluster.ControlStart, msgs[0].Type)
		assert.Equal(t, ct, msgs[0].Ciphertext)
		assert.NoError(t, msgs[0].Validate())
	}
	w1, _ := r.Get("w1")
	assert.Equal(t, WorkerStarted, w1.Status)

	// Terminated workers are skipped by the abort broadcast.
	r.RecordAssignment("w2", cluster.TerminateAssignment())
	require.NoError(t, bc.Abort(context.Background(), 47))

	msgs := a.received()
	require.Len(t, msgs, 2)
	assert.Equal(t, cluster.AbortMessage(47), msgs[1])
	assert.Len(t, b.received(), 1)

	w1, _ = r.Get("w1")
	assert.Equal(t, WorkerAborted, w1.Status)
}

func TestBroadcasterUnreachableWorkers(t *testing.T) {
	var a controlRecorder
	r := NewRegistry(3)
	_, _ = r.Register(cluster.WorkerInfo{ID: "w1", Addr: a.server(t).URL})
	_, _ = r.Register(cluster.WorkerInfo{ID: "w3", Addr: "http://127.0.0.1:1"})
	_, _ = r.Register(cluster.WorkerInfo{ID: "w2", Addr: "http://127.0.0.1:1"})

	bc := NewHTTPBroadcaster(r, time.Second, quietLogger())
	err := bc.Abort(context.Background(), 5)

	var ue *UnreachableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "abort", ue.Op)
	assert.Equal(t, []string{"w2", "w3"}, ue.Workers)
	assert.Contains(t, err.Error(), "2 worker(s) unreachable: w2, w3")
	assert.Len(t, a.received(), 1, "reachable workers still receive the abort")
}

func TestBroadcasterNoWorkers(t *testing.T) {
	bc := NewHTTPBroadcaster(NewRegistry(1), 0, nil)
	assert.NoError(t, bc.Abort(context.Background(), 1))
}
