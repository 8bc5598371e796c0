package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ipwatch/internal/registry"
	"ipwatch/internal/types"
)

func newTestRegistry(entries ...registry.Entry) *registry.Registry {
	return &registry.Registry{Entries: entries, FetchedAt: time.Now()}
}

func TestResolveExternalFallsBackAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail the first two attempts, then answer.
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("93.184.216.34\n"))
	}))
	defer srv.Close()

	r := New(Options{TryCount: 5, Timeout: time.Second}, zaptest.NewLogger(t))
	reg := newTestRegistry(registry.Entry{URL: srv.URL, Parse: registry.ParsePlainText})

	addr, err := r.ResolveExternal(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", addr.Value)
	assert.Equal(t, types.IPv4, addr.Family)
	assert.Equal(t, types.SourceExternal, addr.Source)
	assert.Equal(t, srv.URL, addr.Server)
	assert.Equal(t, int32(3), hits.Load())
}

func TestResolveExternalExhaustsTryCount(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tryCount := 4
	r := New(Options{TryCount: tryCount, Timeout: time.Second}, zaptest.NewLogger(t))
	reg := newTestRegistry(registry.Entry{URL: srv.URL})

	addr, err := r.ResolveExternal(context.Background(), reg)
	require.Error(t, err)
	assert.Nil(t, addr)
	assert.Equal(t, int32(tryCount), hits.Load())

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Len(t, resErr.Attempts, tryCount)
	assert.Equal(t, srv.URL, resErr.Attempts[0].Server)
}

func TestResolveExternalWrapsAroundServerList(t *testing.T) {
	var firstHits, secondHits atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer first.Close()

	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer second.Close()

	r := New(Options{TryCount: 5, Timeout: time.Second}, zaptest.NewLogger(t))
	reg := newTestRegistry(
		registry.Entry{URL: first.URL},
		registry.Entry{URL: second.URL},
	)

	_, err := r.ResolveExternal(context.Background(), reg)
	require.Error(t, err)
	// 5 attempts over 2 servers: indexes 0,1,0,1,0.
	assert.Equal(t, int32(3), firstHits.Load())
	assert.Equal(t, int32(2), secondHits.Load())
}

func TestResolveExternalJSONField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7","country":"XX"}`))
	}))
	defer srv.Close()

	r := New(Options{TryCount: 1, Timeout: time.Second}, zaptest.NewLogger(t))
	reg := newTestRegistry(registry.Entry{
		URL:   srv.URL,
		Parse: registry.ParseJSONField,
		Field: "ip",
	})

	addr, err := r.ResolveExternal(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", addr.Value)
}

func TestResolveExternalSkipsBlacklistedAddress(t *testing.T) {
	private := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("192.168.1.50"))
	}))
	defer private.Close()

	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("198.51.100.23"))
	}))
	defer public.Close()

	blacklist, err := NewBlacklist([]string{"192.168.*.*", "10.*.*.*"})
	require.NoError(t, err)

	r := New(Options{TryCount: 4, Timeout: time.Second, Blacklist: blacklist}, zaptest.NewLogger(t))
	reg := newTestRegistry(
		registry.Entry{URL: private.URL},
		registry.Entry{URL: public.URL},
	)

	addr, err := r.ResolveExternal(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.23", addr.Value)
	assert.Equal(t, public.URL, addr.Server)
}

func TestResolveExternalRejectsNonIPBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	defer srv.Close()

	r := New(Options{TryCount: 2, Timeout: time.Second}, zaptest.NewLogger(t))
	reg := newTestRegistry(registry.Entry{URL: srv.URL})

	_, err := r.ResolveExternal(context.Background(), reg)
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Attempts[0].Err.Error(), "invalid IP address")
}

func TestResolveExternalEmptyRegistry(t *testing.T) {
	r := New(Options{TryCount: 3, Timeout: time.Second}, zaptest.NewLogger(t))

	_, err := r.ResolveExternal(context.Background(), &registry.Registry{})
	assert.Error(t, err)
}

func TestResolveExternalStopsOnCancelledContext(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Options{TryCount: 10, Timeout: time.Second}, zaptest.NewLogger(t))
	reg := newTestRegistry(registry.Entry{URL: srv.URL})

	_, err := r.ResolveExternal(ctx, reg)
	require.Error(t, err)
	assert.Equal(t, int32(0), hits.Load())
}

func TestParseBody(t *testing.T) {
	tests := []struct {
		name    string
		entry   registry.Entry
		body    string
		want    string
		wantErr bool
	}{
		{
			name:  "plain with trailing newline",
			entry: registry.Entry{Parse: registry.ParsePlainText},
			body:  "1.2.3.4\n",
			want:  "1.2.3.4",
		},
		{
			name:    "plain empty body",
			entry:   registry.Entry{Parse: registry.ParsePlainText},
			body:    "  \n",
			wantErr: true,
		},
		{
			name:  "json field",
			entry: registry.Entry{Parse: registry.ParseJSONField, Field: "origin"},
			body:  `{"origin": "8.8.8.8"}`,
			want:  "8.8.8.8",
		},
		{
			name:    "json missing field",
			entry:   registry.Entry{Parse: registry.ParseJSONField, Field: "ip"},
			body:    `{"origin": "8.8.8.8"}`,
			wantErr: true,
		},
		{
			name:    "json field wrong type",
			entry:   registry.Entry{Parse: registry.ParseJSONField, Field: "ip"},
			body:    `{"ip": 42}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBody(tt.entry, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
