// Package directory looks up a user's rank in external groups.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finsys/internal/models"
	"finsys/internal/observability"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// Directory answers rank lookups. Rank 0 means the user is not a member.
type Directory interface {
	RankOf(ctx context.Context, groupID, userID int64) (int, error)
}

// Config configures an HTTPDirectory.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// HTTPDirectory reads group roles from the groups API. All memberships of a
// user come back in one response and are cached together, so resolving
// several groups for the same user costs a single call.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	cache   *expirable.LRU[int64, map[int64]int]
}

type rolesResponse struct {
	Data []struct {
		Group struct {
			ID int64 `json:"id"`
		} `json:"group"`
		Role struct {
			Rank int `json:"rank"`
		} `json:"role"`
	} `json:"data"`
}

// NewHTTPDirectory builds a directory client. A CacheSize of 0 disables caching.
func NewHTTPDirectory(cfg Config) *HTTPDirectory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &HTTPDirectory{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if cfg.CacheSize > 0 {
		d.cache = expirable.NewLRU[int64, map[int64]int](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return d
}

// RankOf returns userID's rank in groupID.
func (d *HTTPDirectory) RankOf(ctx context.Context, groupID, userID int64) (int, error) {
	ranks, err := d.memberships(ctx, userID)
	if err != nil {
		return 0, err
	}
	return ranks[groupID], nil
}

func (d *HTTPDirectory) memberships(ctx context.Context, userID int64) (map[int64]int, error) {
	if d.cache != nil {
		if ranks, ok := d.cache.Get(userID); ok {
			observability.DirectoryLookups.WithLabelValues("hit").Inc()
			return ranks, nil
		}
	}

	ranks, err := d.fetch(ctx, userID)
	if err != nil {
		observability.DirectoryLookups.WithLabelValues("error").Inc()
		return nil, models.NewDirectoryUnavailableError(err)
	}
	observability.DirectoryLookups.WithLabelValues("miss").Inc()
	if d.cache != nil {
		d.cache.Add(userID, ranks)
	}
	return ranks, nil
}

func (d *HTTPDirectory) fetch(ctx context.Context, userID int64) (map[int64]int, error) {
	span, ctx := observability.NewClientSpan(ctx, "directory.roles",
		attribute.Int64("user.id", userID))
	defer span.End()

	url := fmt.Sprintf("%s/v2/users/%d/groups/roles", d.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("groups API returned status %d", resp.StatusCode)
		span.SetError(err)
		return nil, err
	}

	var body rolesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("decode group roles: %w", err)
	}

	ranks := make(map[int64]int, len(body.Data))
	for _, m := range body.Data {
		ranks[m.Group.ID] = m.Role.Rank
	}
	return ranks, nil
}
