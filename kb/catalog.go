package kb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/model"
)

// EventType indicates what kind of change happened in the catalog.
type EventType int

const (
	EventCatalogReplaced EventType = iota
	EventSortieAdded
)

// Event is emitted to subscribers when the catalog changes.
type Event struct {
	Type   EventType
	Sortie model.SortieMeta // set for EventSortieAdded
	Count  int              // catalog size after the change
}

// Lister is the part of a data source the catalog refreshes from.
type Lister interface {
	ListSorties(ctx context.Context) ([]model.SortieMeta, error)
}

// Catalog is an in-memory, thread-safe index of sortie metadata.
type Catalog struct {
	mu sync.RWMutex

	sorties map[string]model.SortieMeta
	started map[string]time.Time // parsed start instants; absent when unparseable

	subs   map[int]func(Event)
	nextID int
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		sorties: make(map[string]model.SortieMeta),
		started: make(map[string]time.Time),
		subs:    make(map[int]func(Event)),
	}
}

// Add inserts a sortie. It returns an error if the ID is empty or already exists.
func (c *Catalog) Add(meta model.SortieMeta) error {
	meta = meta.Normalize()
	if meta.ID == "" {
		return fmt.Errorf("sortie id is required")
	}

	c.mu.Lock()
	if _, exists := c.sorties[meta.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("sortie with ID %q already exists", meta.ID)
	}
	c.putLocked(meta)
	event := Event{Type: EventSortieAdded, Sortie: meta, Count: len(c.sorties)}
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, event)
	return nil
}

// Replace swaps the whole catalog for list. Entries without an ID are skipped;
// a later duplicate ID overwrites an earlier one.
func (c *Catalog) Replace(list []model.SortieMeta) {
	c.mu.Lock()
	c.sorties = make(map[string]model.SortieMeta, len(list))
	c.started = make(map[string]time.Time, len(list))
	for _, m := range list {
		m = m.Normalize()
		if m.ID == "" {
			continue
		}
		c.putLocked(m)
	}
	event := Event{Type: EventCatalogReplaced, Count: len(c.sorties)}
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, event)
}

// Refresh replaces the catalog with the lister's current sorties. On error the
// catalog is left as it was.
func (c *Catalog) Refresh(ctx context.Context, src Lister) (int, error) {
	list, err := src.ListSorties(ctx)
	if err != nil {
		return 0, err
	}
	c.Replace(list)
	return c.Len(), nil
}

// Get returns the sortie with the given ID.
func (c *Catalog) Get(id string) (model.SortieMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.sorties[strings.TrimSpace(id)]
	return m, ok
}

// Len returns the number of sorties.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sorties)
}

// List returns a snapshot of all sorties, newest start time first. Sorties
// whose start time cannot be parsed come last; ties are ordered by ID.
func (c *Catalog) List() []model.SortieMeta {
	c.mu.RLock()
	res := make([]model.SortieMeta, 0, len(c.sorties))
	for _, m := range c.sorties {
		res = append(res, m)
	}
	started := make(map[string]time.Time, len(c.started))
	for id, t := range c.started {
		started[id] = t
	}
	c.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		ti, okI := started[res[i].ID]
		tj, okJ := started[res[j].ID]
		switch {
		case okI != okJ:
			return okI
		case okI && !ti.Equal(tj):
			return ti.After(tj)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// Subscribe registers a callback for catalog events. It returns an
// unsubscribe function.
func (c *Catalog) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Catalog) putLocked(m model.SortieMeta) {
	c.sorties[m.ID] = m
	if t, err := core.ParseStartTime(m.StartTime); err == nil {
		c.started[m.ID] = t
	} else {
		delete(c.started, m.ID)
	}
}

func (c *Catalog) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

// notify runs outside the lock so subscribers may call back into the catalog.
func notify(subs []func(Event), e Event) {
	for _, fn := range subs {
		fn(e)
	}
}
