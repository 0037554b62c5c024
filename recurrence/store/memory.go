// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/recurrence"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var (
	_ recurrence.TxStore    = (*Memory)(nil)
	_ recurrence.SpecStore  = (*Memory)(nil)
	_ recurrence.ItemFilter = (*Memory)(nil)
	_ habit.Store           = (*Memory)(nil)
)

// Memory implements recurrence.TxStore, recurrence.SpecStore,
// recurrence.ItemFilter and habit.ItemStore in memory.
type Memory struct {
	mu          sync.RWMutex
	instances   map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Instance
	completions map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Completion
	specs       map[recurrence.ItemID]recurrence.Spec
	items       map[recurrence.ItemID]habit.Item

	// FailOn, when set, is consulted before every write with the operation
	// name. A non-nil result fails that write. Used to exercise rollback.
	FailOn func(op string) error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		instances:   make(map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Instance),
		completions: make(map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Completion),
		specs:       make(map[recurrence.ItemID]recurrence.Spec),
		items:       make(map[recurrence.ItemID]habit.Item),
	}
}

// DeleteInstancesInRange removes rows with StartUTC in [from, to].
func (m *Memory) DeleteInstancesInRange(_ context.Context, itemID recurrence.ItemID, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteInstancesLocked(itemID, func(t time.Time) bool { return !t.Before(from) && !t.After(to) })
}

// DeleteInstancesFrom removes rows with StartUTC >= from.
func (m *Memory) DeleteInstancesFrom(_ context.Context, itemID recurrence.ItemID, from time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteInstancesLocked(itemID, func(t time.Time) bool { return !t.Before(from) })
}

func (m *Memory) deleteInstancesLocked(itemID recurrence.ItemID, match func(time.Time) bool) (int, error) {
	if err := m.fail("delete_instances"); err != nil {
		return 0, err
	}
	n := 0
	for k, inst := range m.instances[itemID] {
		if match(inst.StartUTC) {
			delete(m.instances[itemID], k)
			n++
		}
	}
	return n, nil
}

// UpsertInstances inserts or overwrites rows by key.
func (m *Memory) UpsertInstances(_ context.Context, instances []recurrence.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertInstancesLocked(instances)
}

func (m *Memory) upsertInstancesLocked(instances []recurrence.Instance) error {
	if err := m.fail("upsert_instances"); err != nil {
		return err
	}
	for _, inst := range instances {
		byKey, ok := m.instances[inst.ItemID]
		if !ok {
			byKey = make(map[recurrence.OccurrenceKey]recurrence.Instance)
			m.instances[inst.ItemID] = byKey
		}
		byKey[inst.Key] = inst
	}
	return nil
}

// LoadInstances returns all rows of itemID, ascending.
func (m *Memory) LoadInstances(_ context.Context, itemID recurrence.ItemID) ([]recurrence.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterInstancesLocked(itemID, func(time.Time) bool { return true }), nil
}

// LoadInstancesInRange returns rows of itemID with StartUTC in [from, to].
func (m *Memory) LoadInstancesInRange(_ context.Context, itemID recurrence.ItemID, from, to time.Time) ([]recurrence.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterInstancesLocked(itemID, inRange(from, to)), nil
}

// LoadAllInstancesInRange returns rows of every item with StartUTC in [from, to].
func (m *Memory) LoadAllInstancesInRange(_ context.Context, from, to time.Time) ([]recurrence.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allInstancesLocked(from, to), nil
}

func (m *Memory) allInstancesLocked(from, to time.Time) []recurrence.Instance {
	var result []recurrence.Instance
	for itemID := range m.instances {
		result = append(result, m.filterInstancesLocked(itemID, inRange(from, to))...)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartUTC.Equal(result[j].StartUTC) {
			return result[i].ItemID < result[j].ItemID
		}
		return result[i].StartUTC.Before(result[j].StartUTC)
	})
	return result
}

func (m *Memory) filterInstancesLocked(itemID recurrence.ItemID, match func(time.Time) bool) []recurrence.Instance {
	result := []recurrence.Instance{}
	for _, inst := range m.instances[itemID] {
		if match(inst.StartUTC) {
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartUTC.Before(result[j].StartUTC) })
	return result
}

func inRange(from, to time.Time) func(time.Time) bool {
	return func(t time.Time) bool { return !t.Before(from) && !t.After(to) }
}

// GetCompletion returns nil, nil when absent.
func (m *Memory) GetCompletion(_ context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) (*recurrence.Completion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCompletionLocked(itemID, key), nil
}

func (m *Memory) getCompletionLocked(itemID recurrence.ItemID, key recurrence.OccurrenceKey) *recurrence.Completion {
	c, ok := m.completions[itemID][key]
	if !ok {
		return nil
	}
	return &c
}

// PutCompletion inserts or overwrites a completion.
func (m *Memory) PutCompletion(_ context.Context, c recurrence.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCompletionLocked(c)
}

func (m *Memory) putCompletionLocked(c recurrence.Completion) error {
	if err := m.fail("put_completion"); err != nil {
		return err
	}
	byKey, ok := m.completions[c.ItemID]
	if !ok {
		byKey = make(map[recurrence.OccurrenceKey]recurrence.Completion)
		m.completions[c.ItemID] = byKey
	}
	byKey[c.Key] = c
	return nil
}

// DeleteCompletion removes a completion if present.
func (m *Memory) DeleteCompletion(_ context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCompletionLocked(itemID, key)
}

func (m *Memory) deleteCompletionLocked(itemID recurrence.ItemID, key recurrence.OccurrenceKey) error {
	if err := m.fail("delete_completion"); err != nil {
		return err
	}
	delete(m.completions[itemID], key)
	return nil
}

// LoadCompletions returns all completions of itemID ordered by key.
func (m *Memory) LoadCompletions(_ context.Context, itemID recurrence.ItemID) ([]recurrence.Completion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadCompletionsLocked(itemID), nil
}

func (m *Memory) loadCompletionsLocked(itemID recurrence.ItemID) []recurrence.Completion {
	result := []recurrence.Completion{}
	for _, c := range m.completions[itemID] {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// =============================================================================
// HOST-SIDE STATE
// =============================================================================

// GetSpec returns nil, nil when absent.
func (m *Memory) GetSpec(_ context.Context, itemID recurrence.ItemID) (*recurrence.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.specs[itemID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// SaveSpec stores the current spec of an item.
func (m *Memory) SaveSpec(_ context.Context, spec recurrence.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save_spec"); err != nil {
		return err
	}
	m.specs[spec.ItemID] = spec
	return nil
}

// ListSpecs returns every stored spec ordered by item.
func (m *Memory) ListSpecs(_ context.Context) ([]recurrence.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]recurrence.Spec, 0, len(m.specs))
	for _, s := range m.specs {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

// SaveItem inserts or updates an item. CreatedAt is kept on update.
func (m *Memory) SaveItem(_ context.Context, item habit.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save_item"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if prev, ok := m.items[item.ID]; ok && !prev.CreatedAt.IsZero() {
		item.CreatedAt = prev.CreatedAt
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	m.items[item.ID] = item
	return nil
}

// GetItem returns nil, nil when absent.
func (m *Memory) GetItem(_ context.Context, id recurrence.ItemID) (*habit.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// ListItems returns all items ordered by title.
func (m *Memory) ListItems(_ context.Context) ([]habit.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]habit.Item, 0, len(m.items))
	for _, item := range m.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Title == result[j].Title {
			return result[i].ID < result[j].ID
		}
		return result[i].Title < result[j].Title
	})
	return result, nil
}

// SetActive marks an item active or inactive, creating a bare item record
// when the item is unknown.
func (m *Memory) SetActive(itemID recurrence.ItemID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		item = habit.Item{ID: itemID, Title: string(itemID), CreatedAt: time.Now().UTC()}
	}
	item.Active = active
	m.items[itemID] = item
}

// IsActive implements recurrence.ItemFilter. Unknown items are active, so the
// engine can be exercised without an owner table.
func (m *Memory) IsActive(_ context.Context, itemID recurrence.ItemID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	return !ok || item.Active, nil
}

// DeleteItem removes everything an item owns, like a cascading delete.
func (m *Memory) DeleteItem(_ context.Context, itemID recurrence.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, itemID)
	delete(m.completions, itemID)
	delete(m.specs, itemID)
	delete(m.items, itemID)
	return nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = make(map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Instance)
	m.completions = make(map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Completion)
	m.specs = make(map[recurrence.ItemID]recurrence.Spec)
	m.items = make(map[recurrence.ItemID]habit.Item)
	return nil
}

func (m *Memory) fail(op string) error {
	if m.FailOn == nil {
		return nil
	}
	return m.FailOn(op)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(recurrence.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}

	// Commit (already done via direct writes)
	return nil
}

type memorySnapshot struct {
	instances   map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Instance
	completions map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Completion
}

func (m *Memory) snapshot() memorySnapshot {
	inst := make(map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Instance, len(m.instances))
	for id, byKey := range m.instances {
		cp := make(map[recurrence.OccurrenceKey]recurrence.Instance, len(byKey))
		for k, v := range byKey {
			cp[k] = v
		}
		inst[id] = cp
	}
	comp := make(map[recurrence.ItemID]map[recurrence.OccurrenceKey]recurrence.Completion, len(m.completions))
	for id, byKey := range m.completions {
		cp := make(map[recurrence.OccurrenceKey]recurrence.Completion, len(byKey))
		for k, v := range byKey {
			cp[k] = v
		}
		comp[id] = cp
	}
	return memorySnapshot{instances: inst, completions: comp}
}

func (m *Memory) restore(s memorySnapshot) {
	m.instances = s.instances
	m.completions = s.completions
}

// txView runs against the parent's maps while the parent lock is held.
type txView struct {
	parent *Memory
}

func (tv *txView) DeleteInstancesInRange(_ context.Context, itemID recurrence.ItemID, from, to time.Time) (int, error) {
	return tv.parent.deleteInstancesLocked(itemID, inRange(from, to))
}

func (tv *txView) DeleteInstancesFrom(_ context.Context, itemID recurrence.ItemID, from time.Time) (int, error) {
	return tv.parent.deleteInstancesLocked(itemID, func(t time.Time) bool { return !t.Before(from) })
}

func (tv *txView) UpsertInstances(_ context.Context, instances []recurrence.Instance) error {
	return tv.parent.upsertInstancesLocked(instances)
}

func (tv *txView) LoadInstances(_ context.Context, itemID recurrence.ItemID) ([]recurrence.Instance, error) {
	return tv.parent.filterInstancesLocked(itemID, func(time.Time) bool { return true }), nil
}

func (tv *txView) LoadInstancesInRange(_ context.Context, itemID recurrence.ItemID, from, to time.Time) ([]recurrence.Instance, error) {
	return tv.parent.filterInstancesLocked(itemID, inRange(from, to)), nil
}

func (tv *txView) LoadAllInstancesInRange(_ context.Context, from, to time.Time) ([]recurrence.Instance, error) {
	return tv.parent.allInstancesLocked(from, to), nil
}

func (tv *txView) GetCompletion(_ context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) (*recurrence.Completion, error) {
	return tv.parent.getCompletionLocked(itemID, key), nil
}

func (tv *txView) PutCompletion(_ context.Context, c recurrence.Completion) error {
	return tv.parent.putCompletionLocked(c)
}

func (tv *txView) DeleteCompletion(_ context.Context, itemID recurrence.ItemID, key recurrence.OccurrenceKey) error {
	return tv.parent.deleteCompletionLocked(itemID, key)
}

func (tv *txView) LoadCompletions(_ context.Context, itemID recurrence.ItemID) ([]recurrence.Completion, error) {
	return tv.parent.loadCompletionsLocked(itemID), nil
}
