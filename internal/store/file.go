package store

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"sort"
	"strings"

	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/util"
	"github.com/pkg/errors"
)

// on-disk layout of a durable store
type fileState struct {
	NextID     int64                  `json:"nextId"`
	Items      []fileItem             `json:"items"`
	Containers []assessment.Container `json:"containers"`
	Audit      map[int64][]AuditEntry `json:"audit,omitempty"`
}

type fileItem struct {
	assessment.Item
	IntID     int64 `json:"intid,omitempty"`
	Published bool  `json:"published,omitempty"`
}

//
// Open returns a backend persisted at path. Existing state is loaded;
// afterwards every committed transaction rewrites the file atomically
// (temp file, sync, rename), so a crash leaves either the previous or
// the new state on disk.
//
func Open(path string, opts ...Option) (*Memory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state path is required")
	}

	m := NewMemory(opts...)
	data, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrapf(err, "cannot read state %s", path)
	default:
		if err := m.load(data); err != nil {
			return nil, errors.Wrapf(err, "cannot load state %s", path)
		}
	}

	m.commit = func(m *Memory) error {
		return m.save(path)
	}
	return m, nil
}

func (m *Memory) load(data []byte) error {
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID = st.NextID
	for i := range st.Items {
		fi := st.Items[i]
		item := fi.Item
		m.items[item.Key()] = &item
		if fi.IntID > 0 {
			m.intids[&item] = fi.IntID
			m.byIntID[fi.IntID] = &item
		}
		if fi.Published {
			m.published[&item] = true
		}
	}
	for i := range st.Containers {
		c := st.Containers[i]
		m.containers[c.UnitID] = &c
	}
	for id, trail := range st.Audit {
		m.audit[id] = trail
	}
	return nil
}

func (m *Memory) save(path string) error {
	m.mu.RLock()
	st := fileState{NextID: m.nextID, Audit: m.audit}
	for _, item := range m.items {
		fi := fileItem{Item: item.Copy(), Published: m.published[item]}
		fi.IntID = m.intids[item]
		st.Items = append(st.Items, fi)
	}
	for _, c := range m.containers {
		st.Containers = append(st.Containers, c.Copy())
	}
	sort.Slice(st.Items, func(i, j int) bool { return st.Items[i].Key().String() < st.Items[j].Key().String() })
	sort.Slice(st.Containers, func(i, j int) bool { return st.Containers[i].UnitID < st.Containers[j].UnitID })
	data, err := json.MarshalIndent(st, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "cannot encode state")
	}

	return util.WriteFileAtomic(path, data)
}
