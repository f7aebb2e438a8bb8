package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prl900/bandstack/region"
)

const (
	DefaultTimeout  = 2 * time.Minute
	DefaultAttempts = 4
	DefaultBackoff  = 500 * time.Millisecond
)

// Selector issues queries against one Catalog.
type Selector struct {
	catalog Catalog
	log     *zap.Logger

	// Timeout bounds a single catalog call.
	Timeout time.Duration
	// Attempts bounds the number of calls made for one query.
	Attempts int
	// Backoff is the delay before the first retry; it doubles each time.
	Backoff time.Duration
}

// NewSelector returns a Selector with the default retry policy.
func NewSelector(c Catalog, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{
		catalog:  c,
		log:      log,
		Timeout:  DefaultTimeout,
		Attempts: DefaultAttempts,
		Backoff:  DefaultBackoff,
	}
}

// Select validates q and returns its deferred Collection. No catalog call
// is made here.
func (s *Selector) Select(q Query) (*Collection, error) {
	if q.Region == nil {
		return nil, &region.InvalidRegionError{Field: "region", Reason: "no region given"}
	}
	if !q.Static {
		if err := q.Dates.Validate(); err != nil {
			return nil, err
		}
	}
	if len(q.Bands) == 0 {
		return nil, &UnknownBandError{CatalogID: q.CatalogID, Band: ""}
	}
	seen := make(map[string]bool, len(q.Bands))
	for _, b := range q.Bands {
		if b == "" || seen[b] {
			return nil, &UnknownBandError{CatalogID: q.CatalogID, Band: b}
		}
		seen[b] = true
	}
	q.Bands = append([]string(nil), q.Bands...)
	q.Predicates = append([]Predicate(nil), q.Predicates...)
	return &Collection{sel: s, query: q}, nil
}

// Collection is the deferred result of a Select. The first call to Size or
// Scenes runs the catalog query; later calls reuse its outcome.
type Collection struct {
	sel   *Selector
	query Query

	mu      sync.Mutex
	fetched bool
	scenes  []Scene
	err     error
}

// Query returns the query this collection stands for.
func (c *Collection) Query() Query {
	return c.query
}

// Fetched reports whether the catalog has been queried.
func (c *Collection) Fetched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetched
}

// Size triggers the query if needed and returns the filtered scene count.
// An empty collection is not an error here.
func (c *Collection) Size(ctx context.Context) (int, error) {
	scenes, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(scenes), nil
}

// Scenes triggers the query if needed and returns the filtered scenes, or
// an EmptySelectionError when there are none.
func (c *Collection) Scenes(ctx context.Context) ([]Scene, error) {
	scenes, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, &EmptySelectionError{
			Source:    c.query.Source,
			CatalogID: c.query.CatalogID,
			Dates:     c.query.Dates,
			Static:    c.query.Static,
			Filters:   c.query.FilterNames(),
		}
	}
	out := make([]Scene, len(scenes))
	copy(out, scenes)
	return out, nil
}

func (c *Collection) load(ctx context.Context) ([]Scene, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched {
		return c.scenes, c.err
	}
	scenes, err := c.sel.search(ctx, c.query)
	// caller aborts are not memoised, the next access may query again
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	c.fetched = true
	c.scenes, c.err = scenes, err
	return scenes, err
}

// search runs q with per-attempt timeouts and exponential backoff, then
// re-applies every filter and the band restriction to what came back.
func (s *Selector) search(ctx context.Context, q Query) ([]Scene, error) {
	log := s.log.With(zap.String("source", q.Source), zap.String("catalog", q.CatalogID))
	attempts := max(s.Attempts, 1)

	var raw []Scene
	var err error
	for attempt := 1; ; attempt++ {
		raw, err = s.attempt(ctx, q)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) || attempt >= attempts {
			return nil, withAttempts(err, attempt)
		}
		delay := s.Backoff << (attempt - 1)
		log.Warn("Catalog query failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]Scene, 0, len(raw))
	for i := range raw {
		sc := &raw[i]
		if ok, _ := q.Matches(sc); !ok {
			continue
		}
		hit, err := sc.Intersects(q.Region)
		if err != nil {
			return nil, err
		}
		if !hit {
			continue
		}
		r, err := sc.Restrict(q.CatalogID, q.Bands)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	log.Debug("Catalog query done", zap.Int("returned", len(raw)), zap.Int("selected", len(out)))
	return out, nil
}

func (s *Selector) attempt(ctx context.Context, q Query) ([]Scene, error) {
	if s.Timeout <= 0 {
		return s.catalog.Search(ctx, q)
	}
	actx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	scenes, err := s.catalog.Search(actx, q)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, &CatalogTimeoutError{CatalogID: q.CatalogID, Timeout: s.Timeout}
	}
	return scenes, err
}

func withAttempts(err error, n int) error {
	var unavailable *CatalogUnavailableError
	if errors.As(err, &unavailable) {
		unavailable.Attempts = n
	}
	var timeout *CatalogTimeoutError
	if errors.As(err, &timeout) {
		timeout.Attempts = n
	}
	return err
}
