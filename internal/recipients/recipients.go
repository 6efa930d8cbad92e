// Package recipients maintains the per-alias map of sender hashes to
// original sender addresses. The map grows lazily: an entry appears the
// first time a sender is forwarded through an alias and is never deleted.
package recipients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lampions/lampions-go/internal/address"
	"github.com/lampions/lampions-go/internal/store"
)

// Key is the document key the recipient map lives under.
const Key = "recipients.json"

type document struct {
	Recipients map[string]map[string]string `json:"recipients"`
}

// Map provides access to the recipient map document.
type Map struct {
	blob   store.Blob
	domain string
}

// NewMap returns a map reading and writing the recipients document for the
// given domain.
func NewMap(blob store.Blob, domain string) *Map {
	return &Map{blob: blob, domain: domain}
}

// All returns the full alias → hash → address mapping. A missing document
// yields an empty map; a document that fails to decode yields an empty map
// alongside store.ErrCorruptDocument.
func (m *Map) All(ctx context.Context) (map[string]map[string]string, error) {
	data, err := m.blob.Get(ctx, Key)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", Key, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]map[string]string{}, fmt.Errorf("%w: %s: %v", store.ErrCorruptDocument, Key, err)
	}
	if doc.Recipients == nil {
		doc.Recipients = map[string]map[string]string{}
	}

	return doc.Recipients, nil
}

// loadForUpdate reads the map for a read-modify-write cycle. A corrupt
// document is logged and treated as empty, so the next save replaces it.
func (m *Map) loadForUpdate(ctx context.Context) (map[string]map[string]string, error) {
	rels, err := m.All(ctx)
	if errors.Is(err, store.ErrCorruptDocument) {
		logrus.WithError(err).Warn("Treating unreadable recipients document as empty")
		return rels, nil
	}
	return rels, err
}

func (m *Map) save(ctx context.Context, rels map[string]map[string]string) error {
	data, err := json.MarshalIndent(document{Recipients: rels}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", Key, err)
	}

	if err := m.blob.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to store %s: %w", Key, err)
	}

	return nil
}

// Resolve returns the stored sender for an alias and hash pair, and whether
// such an entry exists.
func (m *Map) Resolve(ctx context.Context, alias, hash string) (string, bool, error) {
	rels, err := m.loadForUpdate(ctx)
	if err != nil {
		return "", false, err
	}

	recipient, ok := rels[alias][hash]
	return recipient, ok, nil
}

// Record stores replyTo under the alias and the hash of originAddress,
// persists the whole document, and returns the pseudo-address composed for
// the pair. Re-recording the same sender is idempotent; a changed replyTo
// presentation for the same sender overwrites the previous one. The store
// has no conditional writes, so concurrent records race and the last
// document written wins.
func (m *Map) Record(ctx context.Context, alias, originAddress, replyTo string) (string, error) {
	hash := address.Hash(originAddress)

	rels, err := m.loadForUpdate(ctx)
	if err != nil {
		return "", err
	}

	forAlias, ok := rels[alias]
	if !ok {
		forAlias = map[string]string{}
		rels[alias] = forAlias
	}
	forAlias[hash] = replyTo

	if err := m.save(ctx, rels); err != nil {
		return "", err
	}

	return address.Compose(alias, hash, m.domain), nil
}
