package assessment

import (
	"sort"
	"time"
)

//
// Container is the ordered collection of items homed in one content
// unit. Its LastModified is the resync gate for the unit; the zero
// time means the unit was never synced.
//
type Container struct {
	UnitID       string    `json:"unit"`
	Filename     string    `json:"filename,omitempty"`
	CreatedTime  time.Time `json:"createdTime"`
	LastModified time.Time `json:"lastModified"`
	IDs          []string  `json:"ids"`
}

// NewContainer creates an empty container for a content unit.
func NewContainer(unitID, filename string, now time.Time) *Container {
	return &Container{UnitID: unitID, Filename: filename, CreatedTime: now}
}

// Contains reports whether ntiid is homed here.
func (c *Container) Contains(ntiid string) bool {
	return c.index(ntiid) >= 0
}

// Append adds ntiid once; it reports false when already present.
func (c *Container) Append(ntiid string) bool {
	if c.Contains(ntiid) {
		return false
	}
	c.IDs = append(c.IDs, ntiid)
	return true
}

// Remove drops ntiid, reporting whether it was present.
func (c *Container) Remove(ntiid string) bool {
	i := c.index(ntiid)
	if i < 0 {
		return false
	}
	c.IDs = append(c.IDs[:i], c.IDs[i+1:]...)
	return true
}

func (c *Container) Len() int {
	return len(c.IDs)
}

// Sort orders the ids by name for deterministic downstream consumption.
func (c *Container) Sort() {
	sort.Strings(c.IDs)
}

//
// Touch advances LastModified; it never moves the gate backwards.
//
func (c *Container) Touch(t time.Time) {
	if t.After(c.LastModified) {
		c.LastModified = t
	}
}

//
// Reset puts the container back to the never-synced state so the next
// add pass is not gated.
//
func (c *Container) Reset() {
	c.LastModified = time.Time{}
}

// Synced reports whether the container is already at or past t.
func (c *Container) Synced(t time.Time) bool {
	return !c.LastModified.IsZero() && !c.LastModified.Before(t)
}

// Copy returns a value copy that shares no slices with the receiver.
func (c *Container) Copy() Container {
	cp := *c
	cp.IDs = append([]string(nil), c.IDs...)
	return cp
}

func (c *Container) index(ntiid string) int {
	for i, id := range c.IDs {
		if id == ntiid {
			return i
		}
	}
	return -1
}
