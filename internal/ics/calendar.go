// Package ics fetches subscribed iCalendar feeds and expands their events
// into concrete occurrences for a single local day.
package ics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	appLog "autoplan/internal/log"
	"autoplan/internal/model"
	"autoplan/internal/tz"
)

const defaultCacheTTL = 30 * time.Second

// Calendar combines fetch, parse and expansion for a fixed set of sources.
// Expanded days are kept in memory for a short TTL so repeated API calls do
// not refetch every feed.
type Calendar struct {
	fetcher *Fetcher
	sources []Source
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]dayCache
}

type dayCache struct {
	occs      []model.Occurrence
	updatedAt time.Time
}

// NewCalendar creates a Calendar. A zero ttl uses 30 seconds; a negative
// ttl disables the cache.
func NewCalendar(fetcher *Fetcher, sources []Source, ttl time.Duration) *Calendar {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &Calendar{
		fetcher: fetcher,
		sources: sources,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]dayCache),
	}
}

// Day returns the occurrences overlapping the local day date in zone, in
// zone's location. Sources that fail to fetch or parse are logged and
// skipped; an error is returned only when every source failed.
func (c *Calendar) Day(ctx context.Context, date tz.Date, zone tz.Zone) ([]model.Occurrence, error) {
	if len(c.sources) == 0 {
		return []model.Occurrence{}, nil
	}

	key := zone.ID() + "|" + date.String()
	if occs, ok := c.cached(key); ok {
		return occs, nil
	}

	start, err := zone.StartOfDay(date)
	if err != nil {
		return nil, err
	}
	end, err := zone.StartOfDay(date.AddDays(1))
	if err != nil {
		return nil, err
	}

	results, failed := c.fetcher.FetchAll(ctx, c.sources)

	parsed := make([]ParsedEvent, 0)
	ok := 0
	for _, res := range results {
		events, err := ParseICS(res.Source, res.Body)
		if err != nil {
			failed = append(failed, errors.Wrapf(err, "ics source %s", res.Source.ID))
			continue
		}
		ok++
		parsed = append(parsed, events...)
	}
	if ok == 0 && len(failed) > 0 {
		return nil, errors.Wrap(aggregate(failed), "ics: all sources failed")
	}

	occs, err := ExpandOccurrences(parsed, Window{Start: start, End: end, Location: zone.Location()})
	if err != nil {
		return nil, err
	}

	appLog.Debug("ics day expanded", "date", date.String(), "zone", zone.ID(), "occurrences", len(occs), "failed_sources", len(failed))

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[key] = dayCache{occs: occs, updatedAt: c.now()}
		c.mu.Unlock()
	}
	return occs, nil
}

// Invalidate drops every cached day.
func (c *Calendar) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]dayCache)
	c.mu.Unlock()
}

func (c *Calendar) cached(key string) ([]model.Occurrence, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dc, ok := c.cache[key]
	if !ok || c.now().Sub(dc.updatedAt) >= c.ttl {
		return nil, false
	}
	return dc.occs, true
}

func aggregate(errs []error) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}
