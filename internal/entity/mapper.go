// Package entity maps raw country, language and project values to canonical,
// deduplicated identifiers and tracks which of them still need a database id.
package entity

import (
	"context"
	"fmt"
	"sync"

	"bannerstream/internal/identifier"
)

// Kind names the category an entity belongs to.
type Kind string

const (
	KindCountry  Kind = "country"
	KindLanguage Kind = "language"
	KindProject  Kind = "project"
)

// MintFunc validates a raw value and builds a new identifier for it.
type MintFunc func(raw string) (*identifier.Identifier, error)

// Store persists entity values and hands out their database ids.
type Store interface {
	LoadAll(ctx context.Context, kind Kind) (map[string]int64, error)
	Save(ctx context.Context, kind Kind, value string) (int64, error)
}

// Mapper returns one canonical identifier per distinct raw value.
// It is safe for concurrent use.
type Mapper struct {
	kind Kind
	mint MintFunc

	mu      sync.Mutex
	byValue map[string]*identifier.Identifier
	pending []*identifier.Identifier
}

// NewMapper creates an empty mapper for kind.
func NewMapper(kind Kind, mint MintFunc) *Mapper {
	return &Mapper{
		kind:    kind,
		mint:    mint,
		byValue: make(map[string]*identifier.Identifier),
	}
}

// Kind returns the mapper's entity kind.
func (m *Mapper) Kind() Kind { return m.kind }

// GetOrNew returns the identifier already known for raw, or mints a new one.
// Minting errors are returned unchanged.
func (m *Mapper) GetOrNew(ctx context.Context, raw string) (*identifier.Identifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byValue[raw]; ok {
		return id, nil
	}
	id, err := m.mint(raw)
	if err != nil {
		return nil, err
	}
	m.byValue[raw] = id
	m.pending = append(m.pending, id)
	return id, nil
}

// Len returns the number of known values.
func (m *Mapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byValue)
}

// Pending returns the identifiers that have not been persisted yet.
func (m *Mapper) Pending() []*identifier.Identifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*identifier.Identifier, len(m.pending))
	copy(out, m.pending)
	return out
}

// Preload registers values saved earlier, with their database ids.
// Values that no longer satisfy the mapper's rule are skipped and counted.
func (m *Mapper) Preload(ctx context.Context, store Store) (skipped int, err error) {
	saved, err := store.LoadAll(ctx, m.kind)
	if err != nil {
		return 0, fmt.Errorf("load %s entities: %w", m.kind, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for value, dbID := range saved {
		if _, ok := m.byValue[value]; ok {
			continue
		}
		id, err := m.mint(value)
		if err != nil {
			skipped++
			continue
		}
		if err := id.AssignDBID(dbID); err != nil {
			return skipped, err
		}
		m.byValue[value] = id
	}
	return skipped, nil
}

// Persist saves every pending identifier and assigns its database id.
// Identifiers that fail to save stay pending for the next call.
func (m *Mapper) Persist(ctx context.Context, store Store) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := 0
	for len(m.pending) > 0 {
		id := m.pending[0]
		dbID, err := store.Save(ctx, m.kind, id.String())
		if err != nil {
			return saved, fmt.Errorf("save %s %q: %w", m.kind, id.String(), err)
		}
		if err := id.AssignDBID(dbID); err != nil {
			return saved, err
		}
		m.pending = m.pending[1:]
		saved++
	}
	m.pending = nil
	return saved, nil
}
