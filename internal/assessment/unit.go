package assessment

//
// ContentUnit is the read-only view of the content tree the engine
// needs: identity, children and whether a sibling file is shipped with
// the package. A content package is its own root unit.
//
type ContentUnit interface {
	NTIID() string
	Children() []ContentUnit
	SiblingFileExists(name string) bool
}

// Walk visits u and every descendant depth first, parents first.
func Walk(u ContentUnit, fn func(ContentUnit)) {
	if u == nil {
		return
	}
	fn(u)
	for _, c := range u.Children() {
		Walk(c, fn)
	}
}

// Units indexes a content tree by NTIID.
func Units(root ContentUnit) map[string]ContentUnit {
	out := make(map[string]ContentUnit)
	Walk(root, func(u ContentUnit) {
		if id := u.NTIID(); id != "" {
			out[id] = u
		}
	})
	return out
}
