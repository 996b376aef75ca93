package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ShardMax is the default maximum address count per shard (spec §3,
// GRPC_CHUNK_SIZE in spec §6).
const ShardMax = 1000

// staggerDelay is the pause between standing up consecutive shards
// during a rebuild, to avoid slamming the upstream node (spec §4.F).
const staggerDelay = 100 * time.Millisecond

// Manager owns the shard set exclusively (spec §3 ownership table).
// All mutations to the watched address set and the active group
// filter go through its serialized methods; readers take a
// consistent snapshot via Shards()/ActiveGroup().
type Manager struct {
	client   GeyserClient
	onEvent  func(*RawUpdate)
	logger   *zap.Logger
	shardMax int

	mu          sync.Mutex // guards the fields below
	rebuildMu   sync.Mutex // serializes replaceAddressSet against itself
	running     bool
	addresses   map[string]struct{}
	shards      []*Shard
	activeGroup *string
}

// NewManager constructs a Manager bound to the given gRPC client and
// dispatch callback. onEvent is invoked from each shard's own
// goroutine, it must be safe for concurrent use from multiple shards.
func NewManager(client GeyserClient, onEvent func(*RawUpdate), logger *zap.Logger) *Manager {
	return &Manager{
		client:    client,
		onEvent:   onEvent,
		logger:    logger,
		shardMax:  ShardMax,
		addresses: make(map[string]struct{}),
	}
}

// SetShardMax overrides the default partition size (GRPC_CHUNK_SIZE).
func (m *Manager) SetShardMax(n int) {
	if n > 0 {
		m.shardMax = n
	}
}

// Start marks the manager running and performs the initial partition
// and shard stand-up.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	m.replaceAddressSet(ctx)
}

// Stop ends every shard's stream and marks the manager stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	shards := m.shards
	m.shards = nil
	m.mu.Unlock()
	for _, s := range shards {
		s.Stop()
	}
}

// Subscribe adds addresses to the watched set, triggering a rebuild if
// the manager is running.
func (m *Manager) Subscribe(ctx context.Context, addrs []string) {
	m.mu.Lock()
	for _, a := range addrs {
		m.addresses[a] = struct{}{}
	}
	running := m.running
	m.mu.Unlock()
	if running {
		m.replaceAddressSet(ctx)
	}
}

// Unsubscribe removes addresses from the watched set, triggering a
// rebuild if the manager is running.
func (m *Manager) Unsubscribe(ctx context.Context, addrs []string) {
	m.mu.Lock()
	for _, a := range addrs {
		delete(m.addresses, a)
	}
	running := m.running
	m.mu.Unlock()
	if running {
		m.replaceAddressSet(ctx)
	}
}

// SwitchGroup sets the active group filter consulted by the Ingest
// Dispatcher. Per spec §4.F, this does NOT change the watched address
// set or rebuild shards, the upstream subscription remains global.
func (m *Manager) SwitchGroup(groupID *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeGroup = groupID
}

// ActiveGroup returns the current group filter, or ("", false) if
// unset (global view).
func (m *Manager) ActiveGroup() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeGroup == nil {
		return "", false
	}
	return *m.activeGroup, true
}

// Shards returns a snapshot of the current shard list, satisfying
// invariant P5 (partition) for callers that want to inspect it.
func (m *Manager) Shards() []*Shard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Shard(nil), m.shards...)
}

// RestartFailedShards is the operator hook for a FAILED shard: spec
// §4.F's state diagram permits only manual restart out of FAILED.
func (m *Manager) RestartFailedShards(ctx context.Context) {
	for _, s := range m.Shards() {
		s.Restart(ctx)
	}
}

// replaceAddressSet implements spec §4.F's stop-and-rebuild operation:
// partition the current watched set into shardMax-sized chunks, end
// all current streams best-effort, then create new streams in order
// with a short stagger. rebuildMu serializes this against itself so two
// overlapping Subscribe/Unsubscribe calls can't stand up two
// overlapping shard generations; the shorter-held mu only protects the
// plain field reads/writes, so a slow upstream dial doesn't block
// Subscribe/Unsubscribe/ActiveGroup callers for the whole rebuild.
func (m *Manager) replaceAddressSet(ctx context.Context) {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	m.mu.Lock()
	addrs := make([]string, 0, len(m.addresses))
	for a := range m.addresses {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs) // deterministic partitioning across rebuilds
	oldShards := m.shards
	shardMax := m.shardMax
	m.mu.Unlock()

	for _, s := range oldShards {
		s.Stop()
	}

	chunks := chunk(addrs, shardMax)
	newShards := make([]*Shard, 0, len(chunks))
	for i, c := range chunks {
		s := NewShard(i, c, m.client, m.onEvent, m.logger)
		s.Start(ctx)
		newShards = append(newShards, s)
		if i < len(chunks)-1 {
			time.Sleep(staggerDelay)
		}
	}

	m.mu.Lock()
	m.shards = newShards
	m.mu.Unlock()
}

func chunk(addrs []string, size int) [][]string {
	if size <= 0 {
		size = ShardMax
	}
	var out [][]string
	for i := 0; i < len(addrs); i += size {
		end := i + size
		if end > len(addrs) {
			end = len(addrs)
		}
		out = append(out, addrs[i:end])
	}
	return out
}
