package qmap

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/content"
	"github.com/nsip/otf-assess/internal/index"
	"github.com/nsip/otf-assess/internal/store"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2021, 5, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t1.Add(time.Hour)
)

type harness struct {
	c   *Coordinator
	be  *store.Memory
	log *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var buf bytes.Buffer
	l := log.New("qmap-test")
	l.SetOutput(&buf)
	be := store.NewMemory()
	return &harness{c: NewCoordinator(be, WithLogger(l)), be: be, log: &buf}
}

func (h *harness) lookup(t *testing.T, kind assessment.Kind, ntiid string) *assessment.Item {
	t.Helper()
	item, ok := h.be.Lookup(kind, ntiid)
	require.True(t, ok, "%s %s not registered", kind, ntiid)
	return item
}

func (h *harness) containerIDs(unit string) []string {
	c, ok := h.be.Container(unit)
	if !ok {
		return nil
	}
	return append([]string(nil), c.IDs...)
}

func source(doc string, at time.Time) index.Source {
	return index.Source{Data: []byte(doc), LastModified: at}
}

// node renders one index entry; items is the raw AssessmentItems body.
func node(ntiid, filename, items string, children ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `%q: {"NTIID": %q, "filename": %q`, ntiid, ntiid, filename)
	if items != "" {
		fmt.Fprintf(&b, `, "AssessmentItems": {%s}`, items)
	}
	if len(children) > 0 {
		fmt.Fprintf(&b, `, "Items": {%s}`, strings.Join(children, ", "))
	}
	b.WriteString("}")
	return b.String()
}

// doc wraps a package root entry holding children.
func doc(children ...string) string {
	return `{"Items": {` + node("tag:pkg", "index.html", "", children...) + `}}`
}

func question(ntiid, content string) string {
	return fmt.Sprintf(`%q: {"MimeType": "application/vnd.nextthought.naquestion", "content": %q}`, ntiid, content)
}

// pkgAB is a package with units tag:A (a.html) and tag:B (b.html).
func pkgAB() *content.Unit {
	return content.NewPackage("tag:pkg", "index.html", []*content.Unit{
		content.Child("tag:A", "a.html"),
		content.Child("tag:B", "b.html"),
	})
}
