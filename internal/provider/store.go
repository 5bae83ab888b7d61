package provider

import (
	"context"
	"maps"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/cloud9ssm"
	log2 "github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/log"
)

// ProviderStore manages the global runtime state of the provider, shared by
// every resource it configures.
type ProviderStore struct {
	clients cloud9ssm.Clients
	region  string
	tags    map[string]string

	// inflight holds the names of environments currently being applied.
	// Physical names derive from them, so two applies of the same name
	// would collide in AWS.
	inflight *mmap[string, struct{}]

	logsDirectory string
	logsFormat    string
}

func NewProviderStore(clients cloud9ssm.Clients, region string) *ProviderStore {
	return &ProviderStore{
		clients: clients,
		region:  region,
		tags:    make(map[string]string),
		inflight: &mmap[string, struct{}]{
			store: make(map[string]struct{}),
		},
	}
}

// Tags returns a copy of the provider level tags.
func (s *ProviderStore) Tags() map[string]string { return maps.Clone(s.tags) }

// Reserve claims name for one apply. It reports false when another apply of
// the same name is in progress.
func (s *ProviderStore) Reserve(name string) bool {
	return s.inflight.SetIfAbsent(name, struct{}{})
}

func (s *ProviderStore) Release(name string) { s.inflight.Delete(name) }

// Logger initializes the context logger for the named environment, teeing
// it into the configured log directory.
func (s *ProviderStore) Logger(ctx context.Context, name string, withs ...any) (context.Context, func()) {
	logger := clog.FromContext(ctx).With(append([]any{"environment", name, "region", s.region}, withs...)...)
	ctx = clog.WithLogger(ctx, logger)
	return log2.SetupFileLogging(ctx, s.logsDirectory, s.logsFormat, name)
}

// mmap is a generic thread-safe map implementation.
type mmap[K comparable, V any] struct {
	mu    sync.Mutex
	store map[K]V
}

// SetIfAbsent stores value unless key is present, and reports whether it
// did.
func (m *mmap[K, V]) SetIfAbsent(key K, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[key]; ok {
		return false
	}
	m.store[key] = value
	return true
}

func (m *mmap[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	return v, ok
}

func (m *mmap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
}
