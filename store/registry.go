package store

import (
	"fmt"
	"sort"
	"sync"
)

// StoreType names a ByteStore backend
type StoreType string

const (
	// MemoryStoreType represents the in-memory backend
	MemoryStoreType StoreType = "memory"
	// DBStoreType represents the gorm/sqlite backend
	DBStoreType StoreType = "db"
	// LevelDBStoreType represents the goleveldb backend
	LevelDBStoreType StoreType = "leveldb"
)

// StoreConstructor opens a backend from free-form parameters (e.g. "path")
type StoreConstructor func(params map[string]any) (ByteStore, error)

// Registry defines the interface for managing ByteStore implementations
type Registry interface {
	// Register adds a new backend to the registry
	Register(st StoreType, constructor StoreConstructor) error
	// SetDefault sets the default store type
	SetDefault(st StoreType) error
	// Get opens a new instance of the specified store type
	Get(st StoreType, params map[string]any) (ByteStore, error)
	// DefaultStoreType returns the current default store type
	DefaultStoreType() StoreType
	// ListRegistered returns the registered store types in name order
	ListRegistered() []StoreType
}

type registry struct {
	mu        sync.RWMutex
	stores    map[StoreType]StoreConstructor
	defaultSt StoreType
}

var defaultRegistry Registry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() Registry {
	return &registry{stores: make(map[StoreType]StoreConstructor)}
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

func (r *registry) Register(st StoreType, constructor StoreConstructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stores[st]; exists {
		return fmt.Errorf("store type %s already registered", st)
	}
	r.stores[st] = constructor
	return nil
}

func (r *registry) SetDefault(st StoreType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stores[st]; !exists {
		return fmt.Errorf("store type %s not registered", st)
	}
	r.defaultSt = st
	return nil
}

func (r *registry) Get(st StoreType, params map[string]any) (ByteStore, error) {
	if st == "" {
		st = r.DefaultStoreType()
	}
	r.mu.RLock()
	constructor, exists := r.stores[st]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("store type %s not found", st)
	}
	return constructor(params)
}

func (r *registry) DefaultStoreType() StoreType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultSt == "" {
		return MemoryStoreType
	}
	return r.defaultSt
}

func (r *registry) ListRegistered() []StoreType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]StoreType, 0, len(r.stores))
	for st := range r.stores {
		types = append(types, st)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Register adds a backend to the global registry
func Register(st StoreType, constructor StoreConstructor) error {
	return GetRegistry().Register(st, constructor)
}

// SetDefault sets the default backend of the global registry
func SetDefault(st StoreType) error {
	return GetRegistry().SetDefault(st)
}

// Open opens a backend from the global registry; an empty type opens the default
func Open(st StoreType, params map[string]any) (ByteStore, error) {
	return GetRegistry().Get(st, params)
}

// ListRegistered returns the backends of the global registry
func ListRegistered() []StoreType {
	return GetRegistry().ListRegistered()
}

// StringParam reads an optional string parameter
func StringParam(params map[string]any, name, fallback string) string {
	if v, ok := params[name].(string); ok && v != "" {
		return v
	}
	return fallback
}
