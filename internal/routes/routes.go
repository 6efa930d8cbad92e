// Package routes reads and maintains the alias routing table stored as a
// single JSON document in the blob store. The relay only reads the table;
// all mutation happens through the operator tooling, which shares this
// codec so both sides stay byte-compatible.
package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lampions/lampions-go/internal/address"
	"github.com/lampions/lampions-go/internal/store"
)

// Key is the document key the routing table lives under.
const Key = "routes.json"

// createdAtLayout matches the RFC 1123 GMT form written into existing
// documents; changing it would change route ids for identical input.
const createdAtLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// ErrNoMatchingRoute is returned when no recipient of a message maps to an
// active route.
var ErrNoMatchingRoute = errors.New("no matching route")

// ErrDuplicateAlias is returned when adding a route whose alias is already
// taken. Aliases are unique across the whole table.
var ErrDuplicateAlias = errors.New("route alias already exists")

// ErrRouteNotFound is returned when updating or removing a route for an
// alias that has no route.
var ErrRouteNotFound = errors.New("no route for alias")

// Route binds a public alias to the real address mail gets forwarded to.
type Route struct {
	ID        string `json:"id"`
	Active    bool   `json:"active"`
	Alias     string `json:"alias"`
	Forward   string `json:"forward"`
	CreatedAt string `json:"createdAt"`
	Meta      string `json:"meta"`
}

// CreatedTime parses the route's creation timestamp. Routes with an
// unparseable timestamp sort as the zero time.
func (r Route) CreatedTime() time.Time {
	t, err := time.Parse(createdAtLayout, r.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

type document struct {
	Routes []Route `json:"routes"`
}

// Table provides access to the routing table document.
type Table struct {
	blob   store.Blob
	domain string
}

// NewTable returns a table reading and writing the routes document for the
// given domain.
func NewTable(blob store.Blob, domain string) *Table {
	return &Table{blob: blob, domain: domain}
}

// Load returns all routes in document order. A missing document yields an
// empty table. A document that fails to decode also yields an empty table,
// but alongside store.ErrCorruptDocument so callers can log the condition.
func (t *Table) Load(ctx context.Context) ([]Route, error) {
	data, err := t.blob.Get(ctx, Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", Key, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorruptDocument, Key, err)
	}

	return doc.Routes, nil
}

func (t *Table) save(ctx context.Context, rts []Route) error {
	if rts == nil {
		rts = []Route{}
	}
	data, err := json.MarshalIndent(document{Routes: rts}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", Key, err)
	}

	if err := t.blob.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", Key, err)
	}

	return nil
}

// loadForUpdate reads the table for a read-modify-write cycle. A corrupt
// document is logged and treated as empty, so the next save replaces it.
func (t *Table) loadForUpdate(ctx context.Context) ([]Route, error) {
	rts, err := t.Load(ctx)
	if errors.Is(err, store.ErrCorruptDocument) {
		logrus.WithError(err).Warn("Treating unreadable routes document as empty")
		return nil, nil
	}
	return rts, err
}

// FindActive scans the table for the first active route whose alias address
// matches one of the recipients. For every recipient the table is scanned
// in document order; matching but inactive routes are skipped with a log
// line. When several recipients match distinct routes, the first recipient's
// route wins and a warning records the discarded candidates.
func (t *Table) FindActive(ctx context.Context, recipients []string) (Route, error) {
	rts, err := t.loadForUpdate(ctx)
	if err != nil {
		return Route{}, err
	}

	var matches []Route
	for _, recipient := range recipients {
		addr := strings.ToLower(recipient)
		for _, route := range rts {
			if addr != strings.ToLower(route.Alias+"@"+t.domain) {
				continue
			}
			if !route.Active {
				logrus.WithFields(logrus.Fields{
					"alias":     route.Alias,
					"recipient": recipient,
				}).Info("Not forwarding to inactive route")
				continue
			}
			matches = append(matches, route)
			break
		}
	}

	if len(matches) == 0 {
		return Route{}, fmt.Errorf("%w for recipients %v", ErrNoMatchingRoute, recipients)
	}
	if len(matches) > 1 {
		aliases := make([]string, len(matches))
		for i, route := range matches {
			aliases[i] = route.Alias
		}
		logrus.WithField("aliases", aliases).Warn(
			"Multiple matching routes; forwarding to the first in document order")
	}

	return matches[0], nil
}

// Add creates a route for a new alias and inserts it at the head of the
// document. The route id is a content hash over alias, forward address and
// creation time, so re-adding the same alias later yields a different id.
func (t *Table) Add(ctx context.Context, alias, forward string, active bool, meta string) (Route, error) {
	rts, err := t.loadForUpdate(ctx)
	if err != nil {
		return Route{}, err
	}

	for _, route := range rts {
		if route.Alias == alias {
			return Route{}, fmt.Errorf("%w: %q", ErrDuplicateAlias, alias)
		}
	}

	createdAt := time.Now().UTC().Format(createdAtLayout)
	route := Route{
		ID:        address.Hash(alias + "-" + forward + "-" + createdAt),
		Active:    active,
		Alias:     alias,
		Forward:   forward,
		CreatedAt: createdAt,
		Meta:      meta,
	}

	rts = append([]Route{route}, rts...)
	if err := t.save(ctx, rts); err != nil {
		return Route{}, err
	}

	return route, nil
}

// Update describes a partial route mutation. Nil or empty fields keep their
// current value.
type Update struct {
	Forward string
	Active  *bool
	Meta    string
}

// Update mutates the route for an alias in place and persists the table.
func (t *Table) Update(ctx context.Context, alias string, upd Update) (Route, error) {
	rts, err := t.loadForUpdate(ctx)
	if err != nil {
		return Route{}, err
	}

	for i := range rts {
		if rts[i].Alias != alias {
			continue
		}
		if upd.Forward != "" {
			rts[i].Forward = upd.Forward
		}
		if upd.Active != nil {
			rts[i].Active = *upd.Active
		}
		if upd.Meta != "" {
			rts[i].Meta = upd.Meta
		}
		if err := t.save(ctx, rts); err != nil {
			return Route{}, err
		}
		return rts[i], nil
	}

	return Route{}, fmt.Errorf("%w: %q", ErrRouteNotFound, alias)
}

// Remove deletes the route for an alias and persists the table.
func (t *Table) Remove(ctx context.Context, alias string) error {
	rts, err := t.loadForUpdate(ctx)
	if err != nil {
		return err
	}

	for i := range rts {
		if rts[i].Alias != alias {
			continue
		}
		rts = append(rts[:i], rts[i+1:]...)
		return t.save(ctx, rts)
	}

	return fmt.Errorf("%w: %q", ErrRouteNotFound, alias)
}
