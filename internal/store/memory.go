//
// Package store provides the backends the synchronizer runs against:
// an in-memory registry with surrogate ids, publication state, audit
// trails and per-unit containers, made transactional by snapshotting,
// and a file-backed variant that persists each committed transaction.
//
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/util"
	"github.com/pkg/errors"
)

const tokenSalt = "otf-assess intid tokens"

// AuditEntry is one recorded change against an assessment item.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	Principal string    `json:"principal,omitempty"`
	Action    string    `json:"action"`
	Note      string    `json:"note,omitempty"`
}

//
// Memory is the in-memory backend. Every mutation made inside Atomic
// is rolled back if the transaction function fails.
//
type Memory struct {
	// serializes transactions
	tx sync.Mutex
	// guards the maps below
	mu sync.RWMutex

	now    func() time.Time
	tokens *util.TokenEncoder
	commit func(*Memory) error

	items      map[assessment.Key]*assessment.Item
	containers map[string]*assessment.Container
	intids     map[*assessment.Item]int64
	byIntID    map[int64]*assessment.Item
	nextID     int64
	audit      map[int64][]AuditEntry
	published  map[*assessment.Item]bool
}

// Option customizes a Memory during construction.
type Option func(*Memory)

// WithClock overrides the clock used for container creation times.
func WithClock(clock func() time.Time) Option {
	return func(m *Memory) {
		m.now = clock
	}
}

// NewMemory builds an empty backend.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		now:        time.Now,
		items:      make(map[assessment.Key]*assessment.Item),
		containers: make(map[string]*assessment.Container),
		intids:     make(map[*assessment.Item]int64),
		byIntID:    make(map[int64]*assessment.Item),
		audit:      make(map[int64][]AuditEntry),
		published:  make(map[*assessment.Item]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if enc, err := util.NewTokenEncoder(tokenSalt); err == nil {
		m.tokens = enc
	}
	return m
}

//
// Atomic runs fn as one transaction. If fn (or the commit hook of a
// durable store) fails, or panics, every registry, container, id,
// publication and audit change it made is undone.
//
func (m *Memory) Atomic(fn func() error) (err error) {
	m.tx.Lock()
	defer m.tx.Unlock()

	snap := m.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.restore(snap)
			panic(r)
		}
	}()

	if err = fn(); err != nil {
		m.restore(snap)
		return err
	}
	if m.commit != nil {
		if err = m.commit(m); err != nil {
			m.restore(snap)
			return errors.Wrap(err, "commit failed")
		}
	}
	return nil
}

// Register binds item to (kind, ntiid).
func (m *Memory) Register(kind assessment.Kind, ntiid string, item *assessment.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assessment.Key{Kind: kind, NTIID: ntiid}
	if existing, ok := m.items[key]; ok && existing != item {
		return errors.Wrapf(assessment.ErrDuplicateRegistration, "%s", key)
	}
	m.items[key] = item
	return nil
}

func (m *Memory) Unregister(kind assessment.Kind, ntiid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assessment.Key{Kind: kind, NTIID: ntiid}
	if _, ok := m.items[key]; !ok {
		return false
	}
	delete(m.items, key)
	return true
}

func (m *Memory) Lookup(kind assessment.Kind, ntiid string) (*assessment.Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[assessment.Key{Kind: kind, NTIID: ntiid}]
	return item, ok
}

// Items returns every registered item ordered by key.
func (m *Memory) Items() []*assessment.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*assessment.Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Len is the number of registered items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) Container(unitID string) (*assessment.Container, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[unitID]
	return c, ok
}

//
// EnsureContainer returns the unit's container, creating it if need
// be. A filename is recorded the first time one is known.
//
func (m *Memory) EnsureContainer(unitID, filename string) *assessment.Container {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[unitID]
	if !ok {
		c = assessment.NewContainer(unitID, filename, m.now())
		m.containers[unitID] = c
	}
	if c.Filename == "" {
		c.Filename = filename
	}
	return c
}

// AddID assigns the item a surrogate id; repeated calls return the same id.
func (m *Memory) AddID(item *assessment.Item) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.intids[item]; ok {
		return id
	}
	m.nextID++
	m.intids[item] = m.nextID
	m.byIntID[m.nextID] = item
	return m.nextID
}

func (m *Memory) RemoveID(item *assessment.Item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.intids[item]
	if !ok {
		return false
	}
	delete(m.intids, item)
	delete(m.byIntID, id)
	return true
}

func (m *Memory) QueryID(item *assessment.Item) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.intids[item]
	return id, ok
}

// Object resolves a surrogate id back to its item.
func (m *Memory) Object(id int64) (*assessment.Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.byIntID[id]
	return item, ok
}

// IDCount is the number of live surrogate ids.
func (m *Memory) IDCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.intids)
}

// Token renders a surrogate id for display.
func (m *Memory) Token(id int64) string {
	if m.tokens == nil {
		return ""
	}
	return m.tokens.Encode(id)
}

func (m *Memory) Publish(item *assessment.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[item] = true
}

func (m *Memory) Unpublish(item *assessment.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.published, item)
}

func (m *Memory) IsPublished(item *assessment.Item) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published[item]
}

// Record appends an entry to the audit trail of surrogate id.
func (m *Memory) Record(id int64, e AuditEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = m.now()
	}
	m.audit[id] = append(m.audit[id], e)
}

// History returns a copy of the audit trail of surrogate id.
func (m *Memory) History(id int64) []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit[id]...)
}

// CopyHistory appends the trail of src onto dst.
func (m *Memory) CopyHistory(src, dst int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.audit[src]) == 0 {
		return
	}
	m.audit[dst] = append(m.audit[dst], m.audit[src]...)
}

func (m *Memory) RemoveHistory(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.audit, id)
}

type snapshot struct {
	items      map[assessment.Key]*assessment.Item
	values     map[*assessment.Item]assessment.Item
	containers map[string]*assessment.Container
	cvalues    map[*assessment.Container]assessment.Container
	intids     map[*assessment.Item]int64
	byIntID    map[int64]*assessment.Item
	nextID     int64
	audit      map[int64][]AuditEntry
	published  map[*assessment.Item]bool
}

//
// snapshot records map membership and the field values of every live
// object. restore writes the values back through the same pointers so
// callers holding an item keep a valid reference after a rollback.
//
func (m *Memory) snapshot() *snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &snapshot{
		items:      make(map[assessment.Key]*assessment.Item, len(m.items)),
		values:     make(map[*assessment.Item]assessment.Item, len(m.items)),
		containers: make(map[string]*assessment.Container, len(m.containers)),
		cvalues:    make(map[*assessment.Container]assessment.Container, len(m.containers)),
		intids:     make(map[*assessment.Item]int64, len(m.intids)),
		byIntID:    make(map[int64]*assessment.Item, len(m.byIntID)),
		nextID:     m.nextID,
		audit:      make(map[int64][]AuditEntry, len(m.audit)),
		published:  make(map[*assessment.Item]bool, len(m.published)),
	}
	for k, item := range m.items {
		s.items[k] = item
		s.values[item] = item.Copy()
	}
	for item, id := range m.intids {
		s.intids[item] = id
		if _, ok := s.values[item]; !ok {
			s.values[item] = item.Copy()
		}
	}
	for id, item := range m.byIntID {
		s.byIntID[id] = item
	}
	for id, c := range m.containers {
		s.containers[id] = c
		s.cvalues[c] = c.Copy()
	}
	for id, trail := range m.audit {
		s.audit[id] = append([]AuditEntry(nil), trail...)
	}
	for item, p := range m.published {
		s.published[item] = p
	}
	return s
}

func (m *Memory) restore(s *snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for item, v := range s.values {
		*item = v
	}
	for c, v := range s.cvalues {
		*c = v
	}
	m.items = s.items
	m.containers = s.containers
	m.intids = s.intids
	m.byIntID = s.byIntID
	m.nextID = s.nextID
	m.audit = s.audit
	m.published = s.published
}
