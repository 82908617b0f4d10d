package cluster

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysearch/internal/keyspace"
)

// TestAssignmentJSON checks that unit bounds survive the wire at full
// 64-bit precision.
func TestAssignmentJSON(t *testing.T) {
	a := UnitAssignment(keyspace.WorkUnit{Lower: math.MaxUint64 - 10, Upper: math.MaxUint64})

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var decoded Assignment
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, a, decoded)
	assert.Equal(t, AssignUnit, decoded.Kind)
}

func TestAssignmentConstructors(t *testing.T) {
	assert.Equal(t, AssignTerminate, TerminateAssignment().Kind)
	assert.Equal(t, AssignAbort, AbortAssignment().Kind)
	assert.Equal(t, keyspace.WorkUnit{}, TerminateAssignment().Unit)
}

func TestControlMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     ControlMessage
		wantErr bool
	}{
		{"start", StartMessage([]byte("12345678")), false},
		{"abort", AbortMessage(42), false},
		{"start without ciphertext", ControlMessage{Type: ControlStart}, true},
		{"length mismatch", ControlMessage{Type: ControlStart, Ciphertext: []byte("1234"), Length: 8}, true},
		{"unknown type", ControlMessage{Type: "pause"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartMessageCarriesCiphertext(t *testing.T) {
	ct := []byte{0, 1, 2, 250, 251, 252, 253, 254}
	data, err := json.Marshal(StartMessage(ct))
	require.NoError(t, err)

	var decoded ControlMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ControlStart, decoded.Type)
	assert.Equal(t, ct, decoded.Ciphertext)
	assert.Equal(t, uint32(8), decoded.Length)
	assert.NoError(t, decoded.Validate())
}

// TestPostJSON drives PostJSON through the shapes the work endpoint returns.
func TestPostJSON(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		reply   string
		body    any
		decode  bool
		slow    bool
		wantErr bool
		want    Assignment
	}{
		{
			name:   "unit assignment",
			status: http.StatusOK,
			reply:  `{"kind":"unit","unit":{"lower":10,"upper":19}}`,
			body:   WorkRequest{WorkerID: "w1"},
			decode: true,
			want:   UnitAssignment(keyspace.WorkUnit{Lower: 10, Upper: 19}),
		},
		{
			name:   "no content",
			status: http.StatusNoContent,
			body:   FoundRequest{WorkerID: "w1", Key: 7},
		},
		{
			name:    "refused",
			status:  http.StatusServiceUnavailable,
			reply:   "run completed",
			body:    WorkRequest{WorkerID: "w1"},
			decode:  true,
			wantErr: true,
		},
		{
			name:    "deadline",
			status:  http.StatusOK,
			reply:   `{"kind":"terminate"}`,
			body:    WorkRequest{WorkerID: "w1"},
			decode:  true,
			slow:    true,
			wantErr: true,
		},
		{
			name:    "body does not marshal",
			status:  http.StatusOK,
			body:    make(chan int),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				if tc.slow {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.reply))
			}))
			defer srv.Close()

			ctx := context.Background()
			if tc.slow {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
			}

			var got Assignment
			var out any
			if tc.decode {
				out = &got
			}
			err := PostJSON(ctx, srv.URL, tc.body, out)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPostJSONBadAddress(t *testing.T) {
	ctx := context.Background()
	req := WorkRequest{WorkerID: "w1"}
	assert.Error(t, PostJSON(ctx, "://no-scheme", req, nil))
	assert.Error(t, PostJSON(ctx, "http://localhost:99999", req, nil))
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"phase":"distributing","cursor":30}`))
		case "/bad":
			w.Write([]byte(`{invalid json}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	var out struct {
		Phase  string `json:"phase"`
		Cursor uint64 `json:"cursor"`
	}
	require.NoError(t, GetJSON(ctx, server.URL+"/ok", &out))
	assert.Equal(t, "distributing", out.Phase)
	assert.Equal(t, uint64(30), out.Cursor)

	assert.Error(t, GetJSON(ctx, server.URL+"/bad", &out))
	assert.Error(t, GetJSON(ctx, server.URL+"/missing", &out))
	assert.Error(t, GetJSON(ctx, "://invalid-url", &out))
}

func TestRequestTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, httpClient.Timeout)
}
