// Package postalcache remembers postal code verdicts in front of a provider.
package postalcache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

// CachedPostalGeocoder wraps a PostalCodeGeocoder with a bounded
// least-recently-used table of verdicts. Placed codes are kept until evicted;
// codes the provider could not place are kept for missTTL.
type CachedPostalGeocoder struct {
	inner   domain.PostalCodeGeocoder
	metrics *observability.Metrics
	table   *verdictTable
}

// New creates a cache decorator around inner holding up to maxEntries codes.
// A zero missTTL disables negative caching.
func New(inner domain.PostalCodeGeocoder, maxEntries int, missTTL time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedPostalGeocoder {
	return &CachedPostalGeocoder{
		inner:   inner,
		metrics: metrics,
		table:   newVerdictTable(maxEntries, missTTL, clock),
	}
}

// GeocodePostalCode answers from the table when it holds a live verdict for
// the code, otherwise asks the provider and records its answer. Provider
// errors are never recorded.
func (c *CachedPostalGeocoder) GeocodePostalCode(ctx context.Context, postalCode string) (domain.Coordinate, bool, error) {
	code := normalize(postalCode)
	if v, ok := c.table.lookup(code); ok {
		if v.found {
			c.metrics.PostalCache.WithLabelValues("hit").Inc()
		} else {
			c.metrics.PostalCache.WithLabelValues("negative_hit").Inc()
		}
		return v.coord, v.found, nil
	}
	c.metrics.PostalCache.WithLabelValues("miss").Inc()

	coord, found, err := c.inner.GeocodePostalCode(ctx, code)
	if err != nil {
		return domain.Coordinate{}, false, err
	}
	c.table.record(code, coord, found)
	return coord, found, nil
}

// normalize reduces a postal code to its table key: trimmed, upper-cased and,
// for a US ZIP+4, cut to the five digit ZIP.
func normalize(postalCode string) string {
	code := strings.ToUpper(strings.TrimSpace(postalCode))
	if len(code) == 10 && code[5] == '-' {
		code = code[:5]
	}
	return code
}

// verdict is what the provider said about one code.
type verdict struct {
	code    string
	coord   domain.Coordinate
	found   bool
	expires time.Time // zero for placed codes
}

// verdictTable is a thread-safe LRU of verdicts keyed by normalized code.
type verdictTable struct {
	mu         sync.Mutex
	maxEntries int
	missTTL    time.Duration
	clock      clockwork.Clock
	order      *list.List // front is most recently used
	byCode     map[string]*list.Element
}

func newVerdictTable(maxEntries int, missTTL time.Duration, clock clockwork.Clock) *verdictTable {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &verdictTable{
		maxEntries: maxEntries,
		missTTL:    missTTL,
		clock:      clock,
		order:      list.New(),
		byCode:     make(map[string]*list.Element),
	}
}

func (t *verdictTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// lookup returns the live verdict for code. Expired misses are dropped.
func (t *verdictTable) lookup(code string) (verdict, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.byCode[code]
	if !ok {
		return verdict{}, false
	}
	v := el.Value.(verdict)
	if !v.found && !t.clock.Now().Before(v.expires) {
		t.drop(el)
		return verdict{}, false
	}
	t.order.MoveToFront(el)
	return v, true
}

// record stores the provider's answer for code. Misses are skipped when
// negative caching is off.
func (t *verdictTable) record(code string, coord domain.Coordinate, found bool) {
	if !found && t.missTTL <= 0 {
		return
	}
	v := verdict{code: code, coord: coord, found: found}
	if !found {
		v.expires = t.clock.Now().Add(t.missTTL)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.byCode[code]; ok {
		el.Value = v
		t.order.MoveToFront(el)
		return
	}
	t.byCode[code] = t.order.PushFront(v)
	if t.order.Len() > t.maxEntries {
		t.drop(t.order.Back())
	}
}

func (t *verdictTable) drop(el *list.Element) {
	delete(t.byCode, el.Value.(verdict).code)
	t.order.Remove(el)
}
