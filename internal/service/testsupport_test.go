package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-config/internal/domain"
	"wisefido-config/internal/repository"
	"wisefido-config/internal/store"
)

// ============================================
// 内存版 Repository（测试用，语义与 postgres 实现一致）
// ============================================

type memEntries struct {
	mu      sync.Mutex
	entries map[domain.Kind][]*domain.ConfigEntry

	// 故障注入：设置后所有操作返回该错误
	failErr error

	// 冲突注入：模拟并发写入者抢先占用版本号（下一次 Insert 返回 ErrConflict）
	conflictOnce bool
}

func newMemEntries() *memEntries {
	return &memEntries{entries: map[domain.Kind][]*domain.ConfigEntry{}}
}

var _ repository.EntriesRepository = (*memEntries)(nil)

func (m *memEntries) matches(kind domain.Kind, e *domain.ConfigEntry, q repository.CurrentQuery) bool {
	if e.Key != q.Key || !e.Scope.Equal(q.Scope) {
		return false
	}
	if kind == domain.KindTemplate && (e.Channel != q.Channel || e.Locale != q.Locale) {
		return false
	}
	return e.ActiveAt(q.AsOf)
}

func (m *memEntries) GetCurrent(_ context.Context, q repository.CurrentQuery) (*domain.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	var best *domain.ConfigEntry
	for _, e := range m.entries[q.Kind] {
		if !m.matches(q.Kind, e, q) {
			continue
		}
		if best == nil || e.Version > best.Version {
			best = e
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (m *memEntries) GetVersion(_ context.Context, kind domain.Kind, key string, scope domain.Scope, version int) (*domain.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	for _, e := range m.entries[kind] {
		if e.Key == key && e.Scope.Equal(scope) && e.Version == version {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memEntries) MaxVersion(_ context.Context, kind domain.Kind, key string, scope domain.Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}

	max := 0
	for _, e := range m.entries[kind] {
		if e.Key == key && e.Scope.Equal(scope) && e.Version > max {
			max = e.Version
		}
	}
	return max, nil
}

func (m *memEntries) Insert(_ context.Context, kind domain.Kind, entry *domain.ConfigEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", m.failErr
	}
	if m.conflictOnce {
		m.conflictOnce = false
		return "", repository.ErrConflict
	}

	for _, e := range m.entries[kind] {
		if e.Key == entry.Key && e.Scope.Equal(entry.Scope) && e.Version == entry.Version {
			return "", repository.ErrConflict
		}
	}
	clone := *entry
	if clone.EntryID == "" {
		clone.EntryID = clone.Key + ":" + clone.Scope.Key() + ":v" + time.Now().Format("150405.000000000")
	}
	m.entries[kind] = append(m.entries[kind], &clone)
	return clone.EntryID, nil
}

func (m *memEntries) ListVersions(_ context.Context, kind domain.Kind, key string, scope domain.Scope, limit int) ([]*domain.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if limit <= 0 {
		limit = 50
	}

	var versions []*domain.ConfigEntry
	for _, e := range m.entries[kind] {
		if e.Key == key && e.Scope.Equal(scope) {
			versions = append(versions, e)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })
	if len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

func (m *memEntries) ListActive(_ context.Context, kind domain.Kind, filter *domain.Scope, now time.Time) ([]*domain.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	best := map[string]*domain.ConfigEntry{}
	for _, e := range m.entries[kind] {
		if !e.ActiveAt(now) {
			continue
		}
		if filter != nil && !e.Scope.Matches(*filter) {
			continue
		}
		groupKey := e.Key + "|" + e.Scope.Key() + "|" + e.Channel + "|" + e.Locale
		if cur, ok := best[groupKey]; !ok || e.Version > cur.Version {
			best[groupKey] = e
		}
	}

	var result []*domain.ConfigEntry
	for _, e := range best {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (m *memEntries) DistinctKeys(_ context.Context, kind domain.Kind, scope domain.Scope) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	seen := map[string]bool{}
	var keys []string
	for _, e := range m.entries[kind] {
		if e.Scope.Equal(scope) && !seen[e.Key] {
			seen[e.Key] = true
			keys = append(keys, e.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memEntries) CountActive(ctx context.Context, kind domain.Kind, filter *domain.Scope, now time.Time) (int, error) {
	active, err := m.ListActive(ctx, kind, filter, now)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

type memRegistry struct {
	mu      sync.Mutex
	entries map[string]*domain.RegistryEntry
	failErr error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{entries: map[string]*domain.RegistryEntry{}}
}

var _ repository.RegistryRepository = (*memRegistry)(nil)

func (m *memRegistry) Get(_ context.Context, key string) (*domain.RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	entry, ok := m.entries[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return entry, nil
}

func (m *memRegistry) Upsert(_ context.Context, entry *domain.RegistryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	return nil
}

func (m *memRegistry) List(_ context.Context) ([]*domain.RegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*domain.RegistryEntry
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

type memChangeLog struct {
	mu      sync.Mutex
	logs    []*domain.ChangeLogEntry
	failErr error
}

func newMemChangeLog() *memChangeLog {
	return &memChangeLog{}
}

var _ repository.ChangeLogRepository = (*memChangeLog)(nil)

func (m *memChangeLog) Insert(_ context.Context, entry *domain.ChangeLogEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", m.failErr
	}
	clone := *entry
	if clone.Timestamp.IsZero() {
		clone.Timestamp = time.Now()
	}
	m.logs = append(m.logs, &clone)
	return clone.LogID, nil
}

func (m *memChangeLog) List(_ context.Context, filters repository.ChangeLogFilters, limit int) ([]*domain.ChangeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}

	var result []*domain.ChangeLogEntry
	for i := len(m.logs) - 1; i >= 0 && len(result) < limit; i-- {
		log := m.logs[i]
		if filters.Key != "" && log.ConfigKey != filters.Key {
			continue
		}
		if filters.Scope != nil && !log.Scope.Equal(*filters.Scope) {
			continue
		}
		if filters.FromDate != nil && log.Timestamp.Before(*filters.FromDate) {
			continue
		}
		if filters.ToDate != nil && log.Timestamp.After(*filters.ToDate) {
			continue
		}
		result = append(result, log)
	}
	return result, nil
}

// entriesOf 按操作类型过滤（断言辅助）
func (m *memChangeLog) entriesOf(op domain.OperationType) []*domain.ChangeLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.ChangeLogEntry
	for _, log := range m.logs {
		if log.OperationType == op {
			result = append(result, log)
		}
	}
	return result
}

type memSnapshots struct {
	mu        sync.Mutex
	snapshots map[string]*domain.Snapshot
	nextID    int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{snapshots: map[string]*domain.Snapshot{}}
}

var _ repository.SnapshotsRepository = (*memSnapshots)(nil)

func (m *memSnapshots) Insert(_ context.Context, snapshot *domain.Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := snapshot.SnapshotID
	if id == "" {
		id = "snap-" + time.Now().Format("150405") + "-" + string(rune('a'+m.nextID%26))
	}
	clone := *snapshot
	clone.SnapshotID = id
	m.snapshots[id] = &clone
	return id, nil
}

func (m *memSnapshots) Get(_ context.Context, snapshotID string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[snapshotID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return snapshot, nil
}

func (m *memSnapshots) List(_ context.Context, limit int) ([]*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Snapshot
	for _, s := range m.snapshots {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ============================================
// 测试引擎装配
// ============================================

type testEnv struct {
	engine    *Engine
	entries   *memEntries
	registry  *memRegistry
	changelog *memChangeLog
	snapshots *memSnapshots
	redis     *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	entries := newMemEntries()
	registry := newMemRegistry()
	changelog := newMemChangeLog()
	snapshots := newMemSnapshots()

	engine := NewEngine(EngineDeps{
		Entries:   entries,
		Registry:  registry,
		ChangeLog: changelog,
		Snapshots: snapshots,
		CacheKV:         store.NewRedisKV(client),
		CacheTTL:        time.Minute,
		CacheMaxEntries: 1024,
		Logger:          zap.NewNop(),
	})

	return &testEnv{
		engine:    engine,
		entries:   entries,
		registry:  registry,
		changelog: changelog,
		snapshots: snapshots,
		redis:     mr,
	}
}

// mustSet 写入并断言成功
func (env *testEnv) mustSet(t *testing.T, req SetRequest) *domain.ConfigEntry {
	t.Helper()
	entry, err := env.engine.Mutator.Set(context.Background(), req)
	require.NoError(t, err)
	return entry
}
