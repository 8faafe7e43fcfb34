package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository"
)

const (
	dataKeyPrefix = "cart:items:"
	genKeyPrefix  = "cart:gen:"

	// Generation counters outlive the entries they guard.
	generationGrace = 24 * time.Hour
)

// setIfGeneration writes KEYS[1] only if the generation in KEYS[2] still
// equals ARGV[1], i.e. no invalidation happened since the load began.
var setIfGeneration = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[2]) or "0")
if current ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

var cacheRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_cache_requests_total",
		Help: "Cart cache lookups by result (hit, stale, miss, error)",
	},
	[]string{"result"},
)

// Config controls entry lifetimes. Entries younger than Fresh are served
// as-is; older ones are served while a background refresh runs, until TTL.
type Config struct {
	TTL         time.Duration
	Fresh       time.Duration
	LoadTimeout time.Duration
}

type entry struct {
	StoredAt time.Time         `json:"stored_at"`
	Items    []domain.CartItem `json:"items"`
}

// CartCache implements repository.CartCache on Redis.
type CartCache struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group
	wg     sync.WaitGroup
	now    func() time.Time
}

var _ repository.CartCache = (*CartCache)(nil)

// NewCartCache creates a cache. Fresh is clamped to TTL.
func NewCartCache(client *redis.Client, cfg Config, logger *slog.Logger) *CartCache {
	if cfg.Fresh <= 0 || cfg.Fresh > cfg.TTL {
		cfg.Fresh = cfg.TTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Second
	}
	return &CartCache{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func dataKey(owner domain.OwnerKey) string { return dataKeyPrefix + string(owner) }
func genKey(owner domain.OwnerKey) string  { return genKeyPrefix + string(owner) }

// Fetch serves owner's items from Redis when possible. Redis failures are
// logged and the store is read directly.
func (c *CartCache) Fetch(ctx context.Context, owner domain.OwnerKey, load repository.Loader) ([]domain.CartItem, error) {
	e, err := c.read(ctx, owner)
	switch {
	case err != nil:
		cacheRequests.WithLabelValues("error").Inc()
		c.logger.WarnContext(ctx, "cart cache read failed",
			slog.String("owner_key", string(owner)),
			slog.String("error", err.Error()),
		)
	case e == nil:
		cacheRequests.WithLabelValues("miss").Inc()
	case c.now().Sub(e.StoredAt) < c.cfg.Fresh:
		cacheRequests.WithLabelValues("hit").Inc()
		return e.Items, nil
	default:
		cacheRequests.WithLabelValues("stale").Inc()
		c.refreshAsync(ctx, owner, load)
		return e.Items, nil
	}

	return c.loadShared(ctx, owner, load)
}

// Invalidate bumps each owner's generation and drops its entry in one
// MULTI block, so an in-flight refresh cannot write back what it loaded.
// In-flight shared loads are forgotten as well: a Fetch issued after
// Invalidate returns starts a new store read instead of joining one that
// began before the mutation.
func (c *CartCache) Invalidate(ctx context.Context, owners ...domain.OwnerKey) error {
	if len(owners) == 0 {
		return nil
	}
	for _, owner := range owners {
		c.group.Forget(string(owner))
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, owner := range owners {
			p.Incr(ctx, genKey(owner))
			p.Expire(ctx, genKey(owner), c.cfg.TTL+generationGrace)
			p.Del(ctx, dataKey(owner))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cart cache: %w", err)
	}
	return nil
}

// Close waits for background refreshes to finish.
func (c *CartCache) Close() {
	c.wg.Wait()
}

func (c *CartCache) read(ctx context.Context, owner domain.OwnerKey) (*entry, error) {
	raw, err := c.client.Get(ctx, dataKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A corrupt entry is treated as a miss and overwritten on reload.
		return nil, nil
	}
	if e.Items == nil {
		e.Items = []domain.CartItem{}
	}
	return &e, nil
}

// loadShared collapses concurrent misses for one owner into a single store
// read. The read is detached from the caller's cancellation so one
// impatient caller cannot fail the others.
func (c *CartCache) loadShared(ctx context.Context, owner domain.OwnerKey, load repository.Loader) ([]domain.CartItem, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(owner), func() (any, error) {
		c.wg.Add(1)
		defer c.wg.Done()
		lctx, cancel := context.WithTimeout(detached, c.cfg.LoadTimeout)
		defer cancel()
		return c.refresh(lctx, owner, load)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]domain.CartItem)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *CartCache) refreshAsync(ctx context.Context, owner domain.OwnerKey, load repository.Loader) {
	detached := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		lctx, cancel := context.WithTimeout(detached, c.cfg.LoadTimeout)
		defer cancel()

		_, err, _ := c.group.Do(string(owner), func() (any, error) {
			return c.refresh(lctx, owner, load)
		})
		if err != nil {
			c.logger.WarnContext(lctx, "background cart refresh failed",
				slog.String("owner_key", string(owner)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// refresh reads the generation, loads from the store and writes the entry
// back only if the generation is unchanged.
func (c *CartCache) refresh(ctx context.Context, owner domain.OwnerKey, load repository.Loader) ([]domain.CartItem, error) {
	gen, genErr := c.generation(ctx, owner)

	items, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.CartItem{}
	}

	if genErr != nil {
		c.logger.WarnContext(ctx, "cart cache generation read failed",
			slog.String("owner_key", string(owner)),
			slog.String("error", genErr.Error()),
		)
		return items, nil
	}

	if err := c.store(ctx, owner, gen, items); err != nil {
		c.logger.WarnContext(ctx, "cart cache write failed",
			slog.String("owner_key", string(owner)),
			slog.String("error", err.Error()),
		)
	}
	return items, nil
}

func (c *CartCache) generation(ctx context.Context, owner domain.OwnerKey) (int64, error) {
	gen, err := c.client.Get(ctx, genKey(owner)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *CartCache) store(ctx context.Context, owner domain.OwnerKey, gen int64, items []domain.CartItem) error {
	raw, err := json.Marshal(entry{StoredAt: c.now(), Items: items})
	if err != nil {
		return fmt.Errorf("marshal cart entry: %w", err)
	}

	keys := []string{dataKey(owner), genKey(owner)}
	args := []any{strconv.FormatInt(gen, 10), raw, c.cfg.TTL.Milliseconds()}
	if err := setIfGeneration.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("conditional set: %w", err)
	}
	return nil
}
