// Package resource implements the in-process registry that ties every
// session, network, and track's lifetime together. A resource is
// registered under any combination of a string id, a 64-bit fast id
// (e.g. an SSRC), and a name; removing it tears down all of its keys
// at once. Destruction never happens synchronously with remove: the
// resource is queued as a zombie and freed by a dedicated goroutine
// only after every subscriber has observed before_dispose/disposing,
// so a hook can safely dereference the resource it was notified about.
package resource

import "sync"

// Resource is anything the manager can own. There is intentionally no
// required method set; callers register arbitrary pointers and
// optionally implement Disposer for a teardown hook.
type Resource interface{}

// Disposer lets a resource run cleanup after all subscribers have
// been notified of its removal. The call happens on the manager's
// disposer goroutine, never synchronously inside Remove.
type Disposer interface {
	Dispose()
}

// Subscriber observes a resource's removal. Both callbacks may
// re-enter the manager (Remove another resource, Remove themselves,
// Subscribe/Unsubscribe) without losing events for other subscribers
// still in the current notification round.
type Subscriber interface {
	BeforeDispose(r Resource)
	Disposing(r Resource)
}

type entry struct {
	res    Resource
	id     string
	name   string
	fastID uint64

	hasID     bool
	hasName   bool
	hasFastID bool

	subscribers []Subscriber
	removed     bool
}

// Handle is the opaque token returned by Add/AddWithID/etc. and is
// the only way to address a previously-registered resource for
// Remove, Subscribe, or the Set* key assignments.
type Handle struct {
	e *entry
}

// Manager is the registry. Zero value is not usable; use NewManager.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	byID     map[string]*entry
	byFastID map[uint64]*entry
	byName   map[string]*entry
	order    []*entry

	zombies []*entry
	closed  bool
	wg      sync.WaitGroup
}

// NewManager creates a manager and starts its disposer goroutine.
func NewManager() *Manager {
	m := &Manager{
		byID:     make(map[string]*entry),
		byFastID: make(map[uint64]*entry),
		byName:   make(map[string]*entry),
	}
	m.cond = sync.NewCond(&m.mu)
	m.wg.Add(1)
	go m.disposerLoop()
	return m
}

// Add registers r with no keys; Set the keys afterward as needed.
func (m *Manager) Add(r Resource) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &entry{res: r}
	m.order = append(m.order, e)
	return &Handle{e: e}
}

// AddWithID registers r under id.
func (m *Manager) AddWithID(r Resource, id string) *Handle {
	h := m.Add(r)
	m.SetID(h, id)
	return h
}

// AddWithFastID registers r under fastID (e.g. an SSRC).
func (m *Manager) AddWithFastID(r Resource, fastID uint64) *Handle {
	h := m.Add(r)
	m.SetFastID(h, fastID)
	return h
}

// AddWithName registers r under name.
func (m *Manager) AddWithName(r Resource, name string) *Handle {
	h := m.Add(r)
	m.SetName(h, name)
	return h
}

// SetID (re)binds h's id key. A later call for a different resource
// under the same id overrides the index entry; the resource that
// lost the mapping keeps running and is freed independently by its
// own Remove.
func (m *Manager) SetID(h *Handle, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := h.e
	if e.hasID {
		if cur, ok := m.byID[e.id]; ok && cur == e {
			delete(m.byID, e.id)
		}
	}
	e.id = id
	e.hasID = true
	m.byID[id] = e
}

// SetFastID (re)binds h's fast-id key, following the same override
// semantics as SetID.
func (m *Manager) SetFastID(h *Handle, fastID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := h.e
	if e.hasFastID {
		if cur, ok := m.byFastID[e.fastID]; ok && cur == e {
			delete(m.byFastID, e.fastID)
		}
	}
	e.fastID = fastID
	e.hasFastID = true
	m.byFastID[fastID] = e
}

// SetName (re)binds h's name key, following the same override
// semantics as SetID.
func (m *Manager) SetName(h *Handle, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := h.e
	if e.hasName {
		if cur, ok := m.byName[e.name]; ok && cur == e {
			delete(m.byName, e.name)
		}
	}
	e.name = name
	e.hasName = true
	m.byName[name] = e
}

// ByID looks up a live resource by id.
func (m *Manager) ByID(id string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || e.removed {
		return nil, false
	}
	return e.res, true
}

// ByFastID looks up a live resource by fast id.
func (m *Manager) ByFastID(fastID uint64) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byFastID[fastID]
	if !ok || e.removed {
		return nil, false
	}
	return e.res, true
}

// ByName looks up a live resource by name.
func (m *Manager) ByName(name string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byName[name]
	if !ok || e.removed {
		return nil, false
	}
	return e.res, true
}

// Each calls fn for every live resource in registration order. The
// order slice is snapshotted under the lock so concurrent Remove
// calls (including ones fn itself triggers) can't corrupt iteration.
func (m *Manager) Each(fn func(Resource) bool) {
	m.mu.Lock()
	snapshot := append([]*entry(nil), m.order...)
	m.mu.Unlock()

	for _, e := range snapshot {
		m.mu.Lock()
		removed := e.removed
		m.mu.Unlock()
		if removed {
			continue
		}
		if !fn(e.res) {
			return
		}
	}
}

// Subscribe registers sub to be notified when the resource behind h
// is removed.
func (m *Manager) Subscribe(h *Handle, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.e.subscribers = append(h.e.subscribers, sub)
}

// Unsubscribe reverses a prior Subscribe. A no-op if sub was never
// subscribed or was already removed.
func (m *Manager) Unsubscribe(h *Handle, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := h.e.subscribers
	for i, s := range subs {
		if s == sub {
			h.e.subscribers = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Remove is the sole destruction entry point: it detaches h from all
// indices and the order slice, enqueues it as a zombie, and wakes the
// disposer. Idempotent — a second Remove on the same handle (e.g. a
// resource removing itself from within its own notification) is a
// no-op, so the resource is freed exactly once.
func (m *Manager) Remove(h *Handle) {
	m.mu.Lock()
	e := h.e
	if e.removed {
		m.mu.Unlock()
		return
	}
	e.removed = true

	if e.hasID {
		if cur, ok := m.byID[e.id]; ok && cur == e {
			delete(m.byID, e.id)
		}
	}
	if e.hasFastID {
		if cur, ok := m.byFastID[e.fastID]; ok && cur == e {
			delete(m.byFastID, e.fastID)
		}
	}
	if e.hasName {
		if cur, ok := m.byName[e.name]; ok && cur == e {
			delete(m.byName, e.name)
		}
	}
	for i, o := range m.order {
		if o == e {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	m.zombies = append(m.zombies, e)
	m.mu.Unlock()
	m.cond.Signal()
}

// disposerLoop drains the zombie queue, notifying subscribers and
// running each resource's Dispose. Zombies enqueued while a batch is
// being processed (including by that very processing, via re-entrant
// Remove calls from notification callbacks) are picked up on the next
// pass through the outer loop without needing a fresh signal.
func (m *Manager) disposerLoop() {
	defer m.wg.Done()

	m.mu.Lock()
	for {
		for len(m.zombies) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.zombies) == 0 && m.closed {
			m.mu.Unlock()
			return
		}

		batch := m.zombies
		m.zombies = nil
		m.mu.Unlock()

		for _, z := range batch {
			m.disposeOne(z)
		}

		m.mu.Lock()
	}
}

func (m *Manager) disposeOne(z *entry) {
	m.mu.Lock()
	subs := append([]Subscriber(nil), z.subscribers...)
	m.mu.Unlock()

	for _, s := range subs {
		s.BeforeDispose(z.res)
	}
	for _, s := range subs {
		s.Disposing(z.res)
	}

	if d, ok := z.res.(Disposer); ok {
		d.Dispose()
	}
}

// Close stops the disposer after draining any remaining zombies. It
// blocks until the disposer goroutine has exited.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Signal()
	m.wg.Wait()
}
