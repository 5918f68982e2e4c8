package qmap

import (
	"sort"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/index"
	"github.com/nsip/otf-assess/internal/util"
	"github.com/pkg/errors"
)

const rootFilename = "index.html"

//
// Reconciler applies one parsed index to the registry.
//
// The walk only collects: new and changed items are queued and only
// registered once the whole tree has been seen, so a reference to an
// item defined later in the walk (an assignment ahead of its question
// set) resolves whatever the visitation order.
//
type Reconciler struct {
	be  Backend
	log *log.Logger
	now func() time.Time
}

func NewReconciler(be Backend, l *log.Logger, now func() time.Time) *Reconciler {
	if l == nil {
		l = log.New("qmap")
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{be: be, log: l, now: now}
}

// state of one reconciliation pass
type pass struct {
	pkg    assessment.ContentUnit
	units  map[string]assessment.ContentUnit
	asOf   time.Time
	stamp  time.Time
	byFile map[string]*fileEntry
	// every item touched this pass, created ones included
	visited map[string]*assessment.Item
	pending []pending
	// ntiid -> unit it was homed in before this pass moved it
	moves  map[string]string
	result *SyncResult
	// first fatal error met while walking
	err error
}

// items collected for one container while walking
type fileEntry struct {
	unit     string
	filename string
	// index node that claimed the file
	node string
	ids  []string
}

func (e *fileEntry) add(ntiid string) {
	for _, id := range e.ids {
		if id == ntiid {
			return
		}
	}
	e.ids = append(e.ids, ntiid)
}

// an item awaiting canonicalization
type pending struct {
	item        *assessment.Item
	created     bool
	publishable bool
}

//
// Reconcile walks idx against the content tree of pkg. asOf is the
// source modification time stamped on the containers it fills.
//
func (r *Reconciler) Reconcile(pkg assessment.ContentUnit, idx *index.Index, asOf time.Time) (*SyncResult, error) {

	p := &pass{
		pkg:     pkg,
		units:   assessment.Units(pkg),
		asOf:    asOf,
		stamp:   r.now(),
		byFile:  make(map[string]*fileEntry),
		visited: make(map[string]*assessment.Item),
		moves:   make(map[string]string),
		result: &SyncResult{
			PassID:  util.GenerateID(),
			Package: pkg.NTIID(),
			AsOf:    asOf,
		},
	}
	p.result.Started = p.stamp

	for _, root := range idx.Roots {
		r.walk(p, root, pkg)
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := r.canonicalize(p); err != nil {
		return nil, err
	}
	r.commit(p)

	p.result.Finished = r.now()
	return p.result, nil
}

func (r *Reconciler) walk(p *pass, n *index.Node, parent assessment.ContentUnit) {

	unit := parent
	if u, ok := p.units[n.ID()]; ok {
		unit = u
	}

	if n.Filename != "" {
		if n.CanCarryItems() && !p.pkg.SiblingFileExists(n.Filename) {
			r.log.Warnf("index entry %s refers to %s which the package does not contain", n.ID(), n.Filename)
		}
		entry, ok := r.fileEntry(p, n, unit)
		switch {
		case len(n.Descriptors) == 0:
		case !ok:
			r.log.Warnf("refusing to attach %d assessment items to duplicate %s entry %s",
				len(n.Descriptors), rootFilename, n.ID())
		default:
			for _, d := range n.Descriptors {
				r.visit(p, d, entry.unit, entry)
			}
		}
	}

	for _, c := range n.Children {
		r.walk(p, c, unit)
	}
}

//
// fileEntry returns the container entry for the node's file. A
// repeated filename shares the first entry and is logged; a repeated
// index.html never receives attachments, whichever unit it resolves to.
//
func (r *Reconciler) fileEntry(p *pass, n *index.Node, unit assessment.ContentUnit) (*fileEntry, bool) {
	e, dup := p.byFile[n.Filename]
	if !dup {
		e = &fileEntry{unit: unit.NTIID(), filename: n.Filename, node: n.ID()}
		p.byFile[n.Filename] = e
		return e, true
	}
	if n.Filename == rootFilename && e.node != n.ID() {
		return nil, false
	}
	if e.unit == unit.NTIID() {
		return e, true
	}
	r.log.Warnf("duplicate container key %s (entries %s and %s), sharing container of %s",
		n.Filename, e.unit, unit.NTIID(), e.unit)
	return e, true
}

//
// visit runs the per-item state machine: create what the registry
// lacks, preserve what is locked, refresh what changed.
//
func (r *Reconciler) visit(p *pass, d *index.Descriptor, unit string, e *fileEntry) {

	if p.err != nil {
		return
	}
	// containers hold bare ntiids, so one ntiid may only ever be one kind
	if k, ok := r.otherKind(p, d); ok {
		p.err = errors.Wrapf(ErrKindConflict, "%s %s is already known as a %s", d.Kind, d.NTIID, k)
		return
	}

	if prev, ok := p.visited[d.NTIID]; ok {
		if prev.Parent != unit {
			r.log.Warnf("assessment item %s already homed in %s this pass, not re-homing under %s",
				d.NTIID, prev.Parent, unit)
		}
		return
	}

	existing, found := r.be.Lookup(d.Kind, d.NTIID)
	switch {
	case !found:
		item := &assessment.Item{
			NTIID:        d.NTIID,
			Kind:         d.Kind,
			CreatedTime:  p.stamp,
			LastModified: p.stamp,
			Parent:       unit,
		}
		apply(item, d)
		p.visited[d.NTIID] = item
		e.add(item.NTIID)
		p.result.record(item, OutcomeCreated)
		p.pending = append(p.pending, pending{item: item, created: true, publishable: d.Publishable})
		r.log.Debugf("created %s %s under %s", item.Kind, item.NTIID, unit)

	case existing.Locked:
		r.preserve(p, existing, unit, e)
		return

	default:
		p.visited[d.NTIID] = existing
		r.rehome(p, existing, unit, e)
		if changed(existing, d) {
			apply(existing, d)
			existing.LastModified = p.stamp
			p.result.record(existing, OutcomeUpdated)
			p.pending = append(p.pending, pending{item: existing, publishable: d.Publishable})
			r.log.Debugf("refreshed %s %s", existing.Kind, existing.NTIID)
		} else {
			p.result.record(existing, OutcomeUnchanged)
		}
	}

	for _, ref := range d.Refs {
		if ref.Inline != nil {
			r.visit(p, ref.Inline, unit, e)
		}
	}
}

func (r *Reconciler) otherKind(p *pass, d *index.Descriptor) (assessment.Kind, bool) {
	if prev, ok := p.visited[d.NTIID]; ok {
		return prev.Kind, prev.Kind != d.Kind
	}
	for _, k := range assessment.Kinds {
		if k == d.Kind {
			continue
		}
		if _, ok := r.be.Lookup(k, d.NTIID); ok {
			return k, true
		}
	}
	return "", false
}

//
// preserve keeps a locked item, and everything it is composed of,
// exactly as persisted; only its home follows the current pass.
//
func (r *Reconciler) preserve(p *pass, item *assessment.Item, unit string, e *fileEntry) {
	if _, ok := p.visited[item.NTIID]; ok {
		return
	}
	p.visited[item.NTIID] = item
	r.rehome(p, item, unit, e)
	p.result.record(item, OutcomePreserved)
	r.log.Debugf("preserved locked %s %s", item.Kind, item.NTIID)

	for _, ref := range item.Refs {
		if sub, ok := r.be.Lookup(item.Kind.RefKind(), ref); ok {
			r.preserve(p, sub, unit, e)
		}
	}
}

func (r *Reconciler) rehome(p *pass, item *assessment.Item, unit string, e *fileEntry) {
	if item.Parent != unit {
		if item.Parent != "" {
			p.moves[item.NTIID] = item.Parent
		}
		// one parent only, even when reachable from several units
		item.Parent = unit
	}
	e.add(item.NTIID)
}

//
// canonicalize resolves every reference of the queued items, then
// registers them, gives them surrogate ids and publishes them.
//
func (r *Reconciler) canonicalize(p *pass) error {

	for _, pi := range p.pending {
		want := pi.item.Kind.RefKind()
		for _, ref := range pi.item.Refs {
			if v, ok := p.visited[ref]; ok && v.Kind == want {
				continue
			}
			if _, ok := r.be.Lookup(want, ref); ok {
				continue
			}
			return errors.Wrapf(ErrMissingDependency, "%s %s references %s %s",
				pi.item.Kind, pi.item.NTIID, want, ref)
		}
	}

	for _, pi := range p.pending {
		if pi.created {
			if err := r.be.Register(pi.item.Kind, pi.item.NTIID, pi.item); err != nil {
				return errors.Wrapf(err, "cannot register %s", pi.item.NTIID)
			}
		}
		r.be.AddID(pi.item)
		switch {
		case pi.publishable:
			r.be.Publish(pi.item)
		case !pi.created:
			r.be.Unpublish(pi.item)
		}
	}

	return nil
}

//
// commit writes the collected by-file entries into the unit
// containers, each left sorted by item name, and advances their gates.
//
func (r *Reconciler) commit(p *pass) {

	for ntiid, from := range p.moves {
		if c, ok := r.be.Container(from); ok {
			c.Remove(ntiid)
		}
	}

	files := make([]string, 0, len(p.byFile))
	for f := range p.byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		e := p.byFile[f]
		c, ok := r.be.Container(e.unit)
		if !ok && len(e.ids) == 0 {
			continue
		}
		if !ok {
			c = r.be.EnsureContainer(e.unit, e.filename)
		}
		for _, id := range e.ids {
			c.Append(id)
		}
		c.Sort()
		c.Touch(p.asOf)
	}

	r.be.EnsureContainer(p.pkg.NTIID(), "").Touch(p.asOf)
}

//
// changed compares authoring signatures when both sides carry one,
// otherwise the compact payloads.
//
func changed(item *assessment.Item, d *index.Descriptor) bool {
	if item.Signature != "" && d.Signature != "" {
		return item.Signature != d.Signature
	}
	return item.Raw != d.Raw || item.Signature != d.Signature
}

func apply(item *assessment.Item, d *index.Descriptor) {
	item.MimeType = d.MimeType
	item.Title = d.Title
	item.Content = d.Content
	item.Raw = d.Raw
	item.Signature = d.Signature
	item.Refs = d.RefIDs()
}
