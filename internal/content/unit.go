//
// Package content models the content packages assessment indexes ship
// in: a tree of units, one per html page, and the library of packages
// the service currently knows about.
//
package content

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/index"
	"github.com/nsip/otf-assess/internal/util"
	"github.com/pkg/errors"
)

//
// Unit is one content unit. All units of a package share the set of
// files the package ships.
//
type Unit struct {
	ID    string  `json:"ntiid"`
	File  string  `json:"filename,omitempty"`
	Kids  []*Unit `json:"children,omitempty"`
	files map[string]bool
}

func (u *Unit) NTIID() string {
	return u.ID
}

func (u *Unit) Children() []assessment.ContentUnit {
	out := make([]assessment.ContentUnit, 0, len(u.Kids))
	for _, k := range u.Kids {
		out = append(out, k)
	}
	return out
}

// SiblingFileExists reports whether the package ships a file called name.
func (u *Unit) SiblingFileExists(name string) bool {
	return u.files[baseFile(name)]
}

// Child builds an unsealed unit for use with NewPackage.
func Child(id, file string, kids ...*Unit) *Unit {
	return &Unit{ID: id, File: file, Kids: kids}
}

//
// NewPackage seals a tree of units into a package: every unit's file,
// plus any extra files, becomes visible to SiblingFileExists.
//
func NewPackage(id, file string, kids []*Unit, extra ...string) *Unit {
	root := &Unit{ID: id, File: file, Kids: kids}
	files := map[string]bool{}
	for _, f := range extra {
		files[baseFile(f)] = true
	}
	var collect func(u *Unit)
	collect = func(u *Unit) {
		if u.File != "" {
			files[baseFile(u.File)] = true
		}
		u.files = files
		for _, k := range u.Kids {
			collect(k)
		}
	}
	collect(root)
	return root
}

//
// FromIndex derives a package tree from an assessment index, for hosts
// that receive the index without the rest of the package. The root
// entry named pkgID (or the only root) becomes the package unit.
//
func FromIndex(pkgID string, idx *index.Index) *Unit {
	var build func(n *index.Node) *Unit
	build = func(n *index.Node) *Unit {
		u := Child(n.ID(), n.Filename)
		for _, c := range n.Children {
			u.Kids = append(u.Kids, build(c))
		}
		return u
	}

	var file string
	var kids []*Unit
	for _, r := range idx.Roots {
		if r.ID() == pkgID || (pkgID == "" && len(idx.Roots) == 1) {
			pkgID = r.ID()
			file = r.Filename
			for _, c := range r.Children {
				kids = append(kids, build(c))
			}
			continue
		}
		kids = append(kids, build(r))
	}
	return NewPackage(pkgID, file, kids)
}

func baseFile(name string) string {
	if i := strings.Index(name, "#"); i >= 0 {
		return name[:i]
	}
	return name
}

//
// Library tracks the current revision of each known package. With a
// path it survives restarts: Save rewrites the file, OpenLibrary reads
// it back.
//
type Library struct {
	mu       sync.RWMutex
	path     string
	packages map[string]*Unit
}

func NewLibrary() *Library {
	return &Library{packages: make(map[string]*Unit)}
}

// OpenLibrary loads the library saved at path, if any.
func OpenLibrary(path string) (*Library, error) {
	l := NewLibrary()
	l.path = path
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read library %s", path)
	}
	var saved []*Unit
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, errors.Wrapf(err, "cannot decode library %s", path)
	}
	for _, u := range saved {
		l.packages[u.ID] = NewPackage(u.ID, u.File, u.Kids)
	}
	return l, nil
}

func (l *Library) Get(id string) (*Unit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.packages[id]
	return u, ok
}

// Put stores pkg and returns the revision it replaced, if any.
func (l *Library) Put(pkg *Unit) (*Unit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.packages[pkg.ID]
	l.packages[pkg.ID] = pkg
	return prev, ok
}

func (l *Library) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.packages, id)
}

// IDs lists known packages in name order.
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ids()
}

// Save persists the library; it is a no-op for an in-memory library.
func (l *Library) Save() error {
	if l.path == "" {
		return nil
	}
	l.mu.RLock()
	saved := make([]*Unit, 0, len(l.packages))
	for _, id := range l.ids() {
		saved = append(saved, l.packages[id])
	}
	data, err := json.MarshalIndent(saved, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "cannot encode library")
	}
	return util.WriteFileAtomic(l.path, data)
}

func (l *Library) ids() []string {
	ids := make([]string, 0, len(l.packages))
	for id := range l.packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
