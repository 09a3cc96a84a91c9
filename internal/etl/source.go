package etl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source reads one table from an external system.
// Implementations live in etl/sources/, one file per source type.

// ErrNotFound is returned (wrapped) when a path, sheet, table or
// collection does not exist.
var ErrNotFound = errors.New("not found")

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Help     string `json:"help,omitempty"`
}

// SourceSpec describes a source type.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Source is the interface every table source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Read loads the whole table referenced by ref.
	// Reading the same ref twice must yield the same content.
	Read(ctx context.Context, ref SourceRef) (*Table, error)
}

// Reader is the read side the Engine depends on.
type Reader interface {
	Read(ctx context.Context, ref SourceRef) (*Table, error)
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
// Called from init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// Registry is a Reader that dispatches each ref to its registered source.
type Registry struct{}

func (Registry) Read(ctx context.Context, ref SourceRef) (*Table, error) {
	kind := ref.Kind()
	if kind == "" {
		return nil, fmt.Errorf("cannot determine source type for %q (set driver)", ref.Location())
	}
	src, err := GetSource(kind)
	if err != nil {
		return nil, err
	}
	return src.Read(ctx, ref)
}
