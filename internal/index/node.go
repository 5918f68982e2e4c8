//
// Package index reads the assessment index an authoring tool embeds in
// a content package (assessment_index.json) into a validated tree of
// typed item descriptors.
//
package index

import (
	"strings"
	"time"

	"github.com/nsip/otf-assess/internal/assessment"
)

//
// Source is one revision of a package's assessment index together
// with the modification time used to gate resyncs.
//
type Source struct {
	Data         []byte
	LastModified time.Time
}

// Index is a parsed assessment index.
type Index struct {
	// top-level entries of the root Items map, sorted by key
	Roots []*Node
	// optional "Last Modified" stamp carried in the document itself
	LastModified time.Time
}

//
// Node is one entry of the index tree, normally mirroring one content
// unit (one html page) of the package.
//
type Node struct {
	Key         string
	NTIID       string
	Filename    string
	Descriptors []*Descriptor
	Signatures  map[string]string
	Children    []*Node
}

// ID is the node's NTIID, falling back to its map key.
func (n *Node) ID() string {
	if n.NTIID != "" {
		return n.NTIID
	}
	return n.Key
}

// CanCarryItems reports whether the node can home assessment items.
func (n *Node) CanCarryItems() bool {
	return CanCarryItems(n.Filename)
}

//
// CanCarryItems: entries without a filename, or pointing at a fragment
// of index.html, cannot home items. Older exports produce both.
//
func CanCarryItems(filename string) bool {
	return filename != "" && !strings.Contains(filename, "index.html#")
}

//
// Walk visits every node depth first, parents before children. The
// callback receives the node's parent, nil for roots.
//
func (idx *Index) Walk(fn func(n, parent *Node)) {
	var visit func(n, parent *Node)
	visit = func(n, parent *Node) {
		fn(n, parent)
		for _, c := range n.Children {
			visit(c, n)
		}
	}
	for _, r := range idx.Roots {
		visit(r, nil)
	}
}

// Count returns the number of top-level descriptors in the index.
func (idx *Index) Count() int {
	total := 0
	idx.Walk(func(n, _ *Node) {
		total += len(n.Descriptors)
	})
	return total
}

//
// Descriptor is the raw, pre-instantiation form of one assessment
// item, already classified into a kind.
//
type Descriptor struct {
	NTIID     string
	Kind      assessment.Kind
	MimeType  string
	Title     string
	Content   string
	Signature string
	// compact json of the whole payload, used for change detection
	Raw string
	// false when the source forbids publication
	Publishable bool
	Refs        []Ref
}

//
// Ref is one constituent of a composite item: either an inline
// descriptor or a reference by NTIID to an item defined elsewhere.
//
type Ref struct {
	NTIID  string
	Inline *Descriptor
}

// RefIDs returns the ordered NTIIDs of the descriptor's constituents.
func (d *Descriptor) RefIDs() []string {
	if len(d.Refs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(d.Refs))
	for _, r := range d.Refs {
		ids = append(ids, r.NTIID)
	}
	return ids
}
