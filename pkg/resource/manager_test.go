package resource

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// namedRes is a minimal Resource/Disposer used across these tests. It
// closes done exactly once when Dispose runs, so tests can block on
// asynchronous disposal without polling.
type namedRes struct {
	name       string
	done       chan struct{}
	disposeOne sync.Once
	disposes   int32
}

func newNamedRes(name string) *namedRes {
	return &namedRes{name: name, done: make(chan struct{})}
}

func (n *namedRes) Dispose() {
	n.disposeOne.Do(func() {
		atomic.AddInt32(&n.disposes, 1)
		close(n.done)
	})
}

func waitDone(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disposal")
	}
}

// recorder is a Subscriber that counts BeforeDispose/Disposing calls
// per target resource name and can run an arbitrary hook from within
// Disposing (used to exercise re-entrancy and iteration stability).
type recorder struct {
	mu        sync.Mutex
	before    map[string]int
	disposing map[string]int

	onBeforeDispose func(res Resource)
	onDisposing     func(res Resource)
}

func newRecorder() *recorder {
	return &recorder{before: make(map[string]int), disposing: make(map[string]int)}
}

func (r *recorder) BeforeDispose(res Resource) {
	r.mu.Lock()
	r.before[res.(*namedRes).name]++
	r.mu.Unlock()
	if r.onBeforeDispose != nil {
		r.onBeforeDispose(res)
	}
}

func (r *recorder) Disposing(res Resource) {
	r.mu.Lock()
	r.disposing[res.(*namedRes).name]++
	r.mu.Unlock()
	if r.onDisposing != nil {
		r.onDisposing(res)
	}
}

func (r *recorder) counts(name string) (before, disposing int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.before[name], r.disposing[name]
}

// #1 — a subscriber that unsubscribes another subscriber from within
// before_dispose must not deprive that subscriber of its event this
// round: the notification list is snapshotted before dispatch begins.
func TestIterationStability(t *testing.T) {
	m := NewManager()
	defer m.Close()

	res := newNamedRes("r")
	h := m.Add(res)

	subB := newRecorder()
	subA := newRecorder()
	subA.onBeforeDispose = func(Resource) {
		m.Unsubscribe(h, subB)
	}

	m.Subscribe(h, subA)
	m.Subscribe(h, subB)

	m.Remove(h)
	waitDone(t, res.done)

	if before, disposing := subB.counts("r"); before != 1 || disposing != 1 {
		t.Fatalf("subB counts = (%d,%d), want (1,1): unsubscribe-during-notification must not drop its event", before, disposing)
	}
	if before, disposing := subA.counts("r"); before != 1 || disposing != 1 {
		t.Fatalf("subA counts = (%d,%d), want (1,1)", before, disposing)
	}
}

// #2 — a resource subscribed to itself may call Remove(self) again
// from within its own notification; it must not be freed twice and
// must not receive a second round of notifications.
func TestReentrantSelfRemove(t *testing.T) {
	m := NewManager()
	defer m.Close()

	res := newNamedRes("self")
	h := m.Add(res)

	self := newRecorder()
	self.onBeforeDispose = func(Resource) {
		m.Remove(h) // re-entrant; must be a no-op
	}
	self.onDisposing = func(Resource) {
		m.Remove(h) // re-entrant again, from the second notification
	}
	m.Subscribe(h, self)

	m.Remove(h)
	waitDone(t, res.done)
	time.Sleep(20 * time.Millisecond) // let any erroneous second round land

	if before, disposing := self.counts("self"); before != 1 || disposing != 1 {
		t.Fatalf("counts = (%d,%d), want (1,1): re-entrant remove(self) must not duplicate notifications", before, disposing)
	}
	if n := atomic.LoadInt32(&res.disposes); n != 1 {
		t.Fatalf("Dispose called %d times, want 1", n)
	}
}

// #3 — a worker subscribed to its owner may remove itself from
// within before_dispose; the owner must still be disposed correctly.
func TestOwnerWorkerPattern(t *testing.T) {
	m := NewManager()
	defer m.Close()

	owner := newNamedRes("owner")
	worker := newNamedRes("worker")
	hOwner := m.Add(owner)
	hWorker := m.Add(worker)

	workerSub := newRecorder()
	workerSub.onBeforeDispose = func(Resource) {
		m.Remove(hWorker) // worker removes itself while owner is still disposing
	}
	m.Subscribe(hOwner, workerSub)

	m.Remove(hOwner)
	waitDone(t, owner.done)
	waitDone(t, worker.done)

	if before, disposing := workerSub.counts("owner"); before != 1 || disposing != 1 {
		t.Fatalf("owner notification counts = (%d,%d), want (1,1)", before, disposing)
	}
}

// #5 — a later AddWithID under a duplicate key overrides the index,
// but both resources are still freed individually on their own
// Remove; the override must not cause a use-after-free of the wrong
// entry's keys.
func TestLateAddWithIDOverridesIndexIndependently(t *testing.T) {
	m := NewManager()
	defer m.Close()

	oldRes := newNamedRes("old")
	newRes := newNamedRes("new")
	hOld := m.AddWithID(oldRes, "dup")
	hNew := m.AddWithID(newRes, "dup")

	if got, ok := m.ByID("dup"); !ok || got.(*namedRes).name != "new" {
		t.Fatalf("ByID(dup) = %v, want newRes", got)
	}

	m.Remove(hOld)
	waitDone(t, oldRes.done)

	// oldRes's removal must not have touched the live "dup" mapping,
	// which still points at newRes.
	if got, ok := m.ByID("dup"); !ok || got.(*namedRes).name != "new" {
		t.Fatalf("ByID(dup) after removing old = %v, want newRes still present", got)
	}

	m.Remove(hNew)
	waitDone(t, newRes.done)

	if _, ok := m.ByID("dup"); ok {
		t.Fatal("ByID(dup) should resolve to nothing once both are removed")
	}
}

// #4 — zombies enqueued while a batch is being processed (here, via a
// re-entrant Remove from inside a notification) are picked up on the
// disposer's next pass without needing an external trigger.
func TestZombiesAddedDuringProcessingArePickedUp(t *testing.T) {
	m := NewManager()
	defer m.Close()

	first := newNamedRes("first")
	second := newNamedRes("second")
	hFirst := m.Add(first)
	hSecond := m.Add(second)

	sub := newRecorder()
	sub.onDisposing = func(Resource) {
		m.Remove(hSecond) // spawns a fresh zombie mid-batch
	}
	m.Subscribe(hFirst, sub)

	m.Remove(hFirst)
	waitDone(t, first.done)
	waitDone(t, second.done)
}

// S6 — three resources subscribe to each other (including R0
// subscribing to itself) and R0 removes itself again from within its
// own disposing; R1 and R2 must still each receive exactly one
// before_dispose and one disposing for R0.
func TestS6ResourceUnsubscribeDuringNotification(t *testing.T) {
	m := NewManager()
	defer m.Close()

	r0 := newNamedRes("r0")
	h0 := m.Add(r0)

	self := newRecorder()
	self.onDisposing = func(Resource) {
		m.Remove(h0) // re-entrant self-remove
	}
	sub1 := newRecorder()
	sub2 := newRecorder()

	m.Subscribe(h0, self)
	m.Subscribe(h0, sub1)
	m.Subscribe(h0, sub2)

	m.Remove(h0)
	waitDone(t, r0.done)
	time.Sleep(20 * time.Millisecond)

	for name, sub := range map[string]*recorder{"sub1": sub1, "sub2": sub2} {
		before, disposing := sub.counts("r0")
		if before != 1 || disposing != 1 {
			t.Fatalf("%s counts = (%d,%d), want (1,1)", name, before, disposing)
		}
	}
	if n := atomic.LoadInt32(&r0.disposes); n != 1 {
		t.Fatalf("r0 Dispose called %d times, want 1", n)
	}
}

func TestEachSkipsRemovedAndIsSafeDuringRemoval(t *testing.T) {
	m := NewManager()
	defer m.Close()

	a := newNamedRes("a")
	b := newNamedRes("b")
	c := newNamedRes("c")
	m.Add(a)
	hb := m.Add(b)
	m.Add(c)

	m.Remove(hb)
	waitDone(t, b.done)

	var seen []string
	m.Each(func(r Resource) bool {
		seen = append(seen, r.(*namedRes).name)
		return true
	})

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "c" {
		t.Fatalf("Each = %v, want [a c]", seen)
	}
}

func TestByFastIDAndByName(t *testing.T) {
	m := NewManager()
	defer m.Close()

	res := newNamedRes("ssrc-bound")
	h := m.AddWithFastID(res, 0xABCD)
	m.SetName(h, "alias")

	if got, ok := m.ByFastID(0xABCD); !ok || got != Resource(res) {
		t.Fatal("ByFastID did not resolve the registered resource")
	}
	if got, ok := m.ByName("alias"); !ok || got != Resource(res) {
		t.Fatal("ByName did not resolve the registered resource")
	}

	m.Remove(h)
	waitDone(t, res.done)

	if _, ok := m.ByFastID(0xABCD); ok {
		t.Fatal("ByFastID should not resolve after Remove")
	}
	if _, ok := m.ByName("alias"); ok {
		t.Fatal("ByName should not resolve after Remove")
	}
}
