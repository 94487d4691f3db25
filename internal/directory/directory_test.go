package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"finsys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rolesServer(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/v2/users/42/groups/roles", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"group":{"id":100,"name":"payouts"},"role":{"id":1,"name":"Member","rank":1}},
			{"group":{"id":200,"name":"staff"},"role":{"id":9,"name":"Admin","rank":254}}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPDirectory_RankOf(t *testing.T) {
	var calls int32
	srv := rolesServer(t, &calls, http.StatusOK)
	d := NewHTTPDirectory(Config{BaseURL: srv.URL + "/", CacheSize: 16, CacheTTL: time.Minute})
	ctx := context.Background()

	rank, err := d.RankOf(ctx, 200, 42)
	require.NoError(t, err)
	assert.Equal(t, 254, rank)

	rank, err = d.RankOf(ctx, 100, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	rank, err = d.RankOf(ctx, 300, 42)
	require.NoError(t, err)
	assert.Zero(t, rank, "non-member has rank 0")

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "memberships are fetched once per user")
}

func TestHTTPDirectory_NoCache(t *testing.T) {
	var calls int32
	srv := rolesServer(t, &calls, http.StatusOK)
	d := NewHTTPDirectory(Config{BaseURL: srv.URL})

	for i := 0; i < 3; i++ {
		_, err := d.RankOf(context.Background(), 100, 42)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPDirectory_ErrorsPropagate(t *testing.T) {
	var calls int32
	srv := rolesServer(t, &calls, http.StatusServiceUnavailable)
	d := NewHTTPDirectory(Config{BaseURL: srv.URL, CacheSize: 16, CacheTTL: time.Minute})

	_, err := d.RankOf(context.Background(), 100, 42)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeDirectoryUnavailable))

	// Failures are not cached.
	_, _ = d.RankOf(context.Background(), 100, 42)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPDirectory_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewHTTPDirectory(Config{BaseURL: url, Timeout: time.Second})
	_, err := d.RankOf(context.Background(), 1, 42)
	assert.True(t, models.IsCode(err, models.CodeDirectoryUnavailable))
}
