package qmap

import (
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/index"
	"github.com/nsip/otf-assess/internal/util"
	"github.com/pkg/errors"
)

//
// Coordinator runs whole-package passes in response to content
// package lifecycle events: a package was added, removed, or replaced
// by a new revision. Each exported operation is one transaction on the
// backend; a failure leaves the backend as it was.
//
type Coordinator struct {
	be     Backend
	parser *index.Parser
	rec    *Reconciler
	log    *log.Logger
	now    func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger shared by the parser and reconciler.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithClock overrides the clock stamped on created and refreshed items.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(be Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		be:  be,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.New("qmap")
	}
	c.parser = index.NewParser(c.log)
	c.rec = NewReconciler(be, c.log, c.now)
	return c
}

//
// SyncAdd registers the assessment items of a newly added (or updated)
// package. Nothing happens when the package's container is already at
// or past the source's modification time.
//
func (c *Coordinator) SyncAdd(pkg assessment.ContentUnit, src index.Source) (*SyncResult, error) {
	var res *SyncResult
	err := c.be.Atomic(func() error {
		var err error
		res, err = c.add(pkg, src, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Resync is SyncAdd without the modification-time gate.
func (c *Coordinator) Resync(pkg assessment.ContentUnit, src index.Source) (*SyncResult, error) {
	var res *SyncResult
	err := c.be.Atomic(func() error {
		var err error
		res, err = c.add(pkg, src, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

//
// SyncRemove unregisters every item homed in the package tree. Locked
// items, and everything they are composed of, stay unless force is set.
//
func (c *Coordinator) SyncRemove(pkg assessment.ContentUnit, force bool) (*RemoveResult, error) {
	var res *RemoveResult
	err := c.be.Atomic(func() error {
		res = c.remove(pkg, force)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

//
// SyncModify replaces package original with its new revision updated.
//
// Everything removable under original goes, the new index is synced,
// locked items the new index no longer mentions are moved under
// updated, and audit history follows each item that was removed and
// re-created under the same NTIID.
//
func (c *Coordinator) SyncModify(original, updated assessment.ContentUnit, src index.Source) (*SyncResult, error) {
	var res *SyncResult
	err := c.be.Atomic(func() error {
		removed := c.remove(original, false)

		added, err := c.add(updated, src, false)
		if err != nil {
			return err
		}

		c.transferLocked(original, updated, removed, added)
		c.transferHistory(removed)

		if err := c.checkConsistency(updated, added); err != nil {
			return err
		}
		res = added
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

//
// Reachable returns the registered items homed anywhere in the
// package tree, unique and in tree order.
//
func (c *Coordinator) Reachable(pkg assessment.ContentUnit) []*assessment.Item {
	var out []*assessment.Item
	seen := map[string]bool{}
	assessment.Walk(pkg, func(u assessment.ContentUnit) {
		cont, ok := c.be.Container(u.NTIID())
		if !ok {
			return
		}
		for _, id := range cont.IDs {
			if seen[id] {
				continue
			}
			if item, ok := lookupAny(c.be, id); ok {
				seen[id] = true
				out = append(out, item)
			}
		}
	})
	return out
}

func (c *Coordinator) add(pkg assessment.ContentUnit, src index.Source, force bool) (*SyncResult, error) {
	defer util.TimeTrack(c.log, time.Now(), "sync of "+pkg.NTIID())

	idx, err := c.parser.Parse(src.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse assessment index of %s", pkg.NTIID())
	}

	asOf := src.LastModified
	if asOf.IsZero() {
		asOf = idx.LastModified
	}
	if asOf.IsZero() {
		asOf = c.now()
	}

	if cont, ok := c.be.Container(pkg.NTIID()); ok && !force && cont.Synced(asOf) {
		c.log.Infof("assessment items of %s are current (%s), skipping", pkg.NTIID(), cont.LastModified)
		now := c.now()
		return &SyncResult{
			PassID:   util.GenerateID(),
			Package:  pkg.NTIID(),
			Skipped:  true,
			AsOf:     asOf,
			Started:  now,
			Finished: now,
		}, nil
	}

	res, err := c.rec.Reconcile(pkg, idx, asOf)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot sync assessment items of %s", pkg.NTIID())
	}
	c.log.Infof("synced %s: %d created, %d updated, %d locked of %d items",
		pkg.NTIID(), len(res.Added()), len(res.Updated()), len(res.Locked()), len(res.Items))
	return res, nil
}

//
// remove runs in two passes: first the ignore set is gathered over the
// whole tree, so a locked composite protects constituents homed in any
// unit, then everything else is unregistered and unlinked.
//
func (c *Coordinator) remove(pkg assessment.ContentUnit, force bool) *RemoveResult {

	ignore := ignoreSet(c.be, c.be, pkg, force)
	res := &RemoveResult{Package: pkg.NTIID(), Locked: ignore.Sorted()}

	assessment.Walk(pkg, func(u assessment.ContentUnit) {
		cont, ok := c.be.Container(u.NTIID())
		if !ok {
			return
		}
		for _, id := range append([]string(nil), cont.IDs...) {
			item, ok := lookupAny(c.be, id)
			if !ok {
				cont.Remove(id)
				continue
			}
			if ignore[id] {
				res.Items = append(res.Items, ItemOutcome{NTIID: id, Kind: item.Kind, Outcome: OutcomeIgnored, Locked: item.Locked})
				continue
			}
			intid, _ := c.be.QueryID(item)
			c.be.Unregister(item.Kind, id)
			c.be.RemoveID(item)
			c.be.Unpublish(item)
			cont.Remove(id)
			res.Removed = append(res.Removed, Removal{Item: item, IntID: intid})
			res.Items = append(res.Items, ItemOutcome{NTIID: id, Kind: item.Kind, Outcome: OutcomeRemoved, Locked: item.Locked})
		}
		cont.Reset()
	})

	if len(res.Locked) > 0 {
		c.log.Warnf("kept %d locked assessment items of %s: %v", len(res.Locked), pkg.NTIID(), res.Locked)
	}
	c.log.Infof("removed %d assessment items of %s", len(res.Removed), pkg.NTIID())
	return res
}

//
// transferLocked moves locked items the new revision no longer
// mentions under updated: into their old unit if updated still has
// it, else into the package root. Constituents homed in other
// packages stay where they are.
//
func (c *Coordinator) transferLocked(original, updated assessment.ContentUnit, removed *RemoveResult, added *SyncResult) {

	synced := map[string]bool{}
	for _, id := range added.Visited() {
		synced[id] = true
	}
	units := assessment.Units(updated)
	previous := assessment.Units(original)

	for _, id := range removed.Locked {
		if synced[id] {
			continue
		}
		item, ok := lookupAny(c.be, id)
		if !ok {
			continue
		}
		if _, ok := previous[item.Parent]; !ok {
			if _, ok := units[item.Parent]; !ok {
				continue
			}
		}
		target := updated.NTIID()
		if _, ok := units[item.Parent]; ok {
			target = item.Parent
		}
		if item.Parent != target {
			if old, ok := c.be.Container(item.Parent); ok {
				old.Remove(id)
			}
			item.Parent = target
		}
		cont := c.be.EnsureContainer(target, "")
		cont.Append(id)
		cont.Sort()
		c.log.Infof("transferred locked %s %s to %s", item.Kind, id, target)
	}
}

//
// transferHistory moves the audit trail of every removed item onto the
// item registered under the same NTIID by the new revision.
//
func (c *Coordinator) transferHistory(removed *RemoveResult) {
	for _, rm := range removed.Removed {
		repl, ok := c.be.Lookup(rm.Item.Kind, rm.Item.NTIID)
		if !ok || repl == rm.Item {
			continue
		}
		newID, ok := c.be.QueryID(repl)
		if !ok || newID == rm.IntID {
			continue
		}
		c.be.CopyHistory(rm.IntID, newID)
		c.be.RemoveHistory(rm.IntID)
	}
}

func (c *Coordinator) checkConsistency(updated assessment.ContentUnit, added *SyncResult) error {
	reachable := len(c.Reachable(updated))
	if synced := len(added.Items); reachable < synced {
		return errors.Wrapf(ErrConsistencyViolation, "%s: %d items reachable, %d synced",
			updated.NTIID(), reachable, synced)
	}
	return nil
}
