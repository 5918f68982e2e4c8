package qmap

import (
	"testing"

	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/nsip/otf-assess/internal/content"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncAdd_SingleFileScenario(t *testing.T) {
	h := newHarness(t)
	pkg := content.NewPackage("A", "a.html", nil)
	src := source(`{"Items": {"A": {"filename": "a.html", "AssessmentItems": {"q1": {"Class": "Question"}}}}}`, t0)

	res, err := h.c.SyncAdd(pkg, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, res.Added())
	assert.Equal(t, 1, h.be.Len())
	assert.Equal(t, []string{"q1"}, h.containerIDs("A"))

	res, err = h.c.SyncAdd(pkg, src)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Added())
	assert.Equal(t, 1, h.be.Len())
	assert.Equal(t, []string{"q1"}, h.containerIDs("A"))
}

func TestResync_IsIdempotentAndKeepsIdentity(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()
	src := source(doc(node("tag:A", "a.html", question("tag:q1", "A"))), t0)

	_, err := h.c.SyncAdd(pkg, src)
	require.NoError(t, err)
	before := h.lookup(t, assessment.KindQuestion, "tag:q1")
	beforeID, ok := h.be.QueryID(before)
	require.True(t, ok)

	res, err := h.c.Resync(pkg, src)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Added())
	assert.Empty(t, res.Updated())
	assert.Equal(t, []string{"tag:q1"}, res.Visited())

	after := h.lookup(t, assessment.KindQuestion, "tag:q1")
	assert.Same(t, before, after)
	afterID, _ := h.be.QueryID(after)
	assert.Equal(t, beforeID, afterID)
	assert.Equal(t, 1, h.be.Len())
}

func TestSyncAdd_GateNeverMovesBackwards(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()
	d := doc(node("tag:A", "a.html", question("tag:q1", "A")))

	_, err := h.c.SyncAdd(pkg, source(d, t1))
	require.NoError(t, err)

	res, err := h.c.SyncAdd(pkg, source(d, t0))
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	root, ok := h.be.Container("tag:pkg")
	require.True(t, ok)
	assert.Equal(t, t1, root.LastModified)
}

func TestSyncAdd_RefreshesUnlockedItemsInPlace(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", question("tag:q1", "A"))), t0))
	require.NoError(t, err)
	q1 := h.lookup(t, assessment.KindQuestion, "tag:q1")
	created := q1.CreatedTime

	res, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", question("tag:q1", "B"))), t1))
	require.NoError(t, err)
	assert.Equal(t, []string{"tag:q1"}, res.Updated())

	after := h.lookup(t, assessment.KindQuestion, "tag:q1")
	assert.Same(t, q1, after)
	assert.Equal(t, "B", after.Content)
	assert.Equal(t, created, after.CreatedTime)
}

func TestSyncAdd_LockedItemIsPreserved(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", question("q1", "A"))), t0))
	require.NoError(t, err)
	h.lookup(t, assessment.KindQuestion, "q1").Locked = true

	res, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", question("q1", "B"))), t1))
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, res.Preserved())
	assert.Equal(t, []string{"q1"}, res.Locked())

	assert.Equal(t, "A", h.lookup(t, assessment.KindQuestion, "q1").Content)
}

func TestSyncAdd_LockedItemFollowsItsNewHome(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", question("tag:q1", "A"))), t0))
	require.NoError(t, err)
	h.lookup(t, assessment.KindQuestion, "tag:q1").Locked = true

	_, err = h.c.SyncAdd(pkg, source(doc(
		node("tag:A", "a.html", ""),
		node("tag:B", "b.html", question("tag:q1", "moved")),
	), t1))
	require.NoError(t, err)

	q1 := h.lookup(t, assessment.KindQuestion, "tag:q1")
	assert.Equal(t, "tag:B", q1.Parent)
	assert.Equal(t, "A", q1.Content)
	assert.Empty(t, h.containerIDs("tag:A"))
	assert.Equal(t, []string{"tag:q1"}, h.containerIDs("tag:B"))
}

func TestSyncAdd_ExplodesComposites(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	items := `"tag:asg": {"MimeType": "application/vnd.nextthought.assessment.assignment",
			"parts": [{"question_set": {"NTIID": "tag:set", "Class": "QuestionSet",
				"questions": [{"NTIID": "tag:q2", "Class": "Question"}, {"NTIID": "tag:q1", "Class": "Question"}]}}]}`
	res, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", items)), t0))
	require.NoError(t, err)

	assert.Equal(t, []string{"tag:asg", "tag:set", "tag:q2", "tag:q1"}, res.Added())
	assert.Equal(t, 4, h.be.Len())
	assert.Equal(t, []string{"tag:asg", "tag:q1", "tag:q2", "tag:set"}, h.containerIDs("tag:A"))

	set := h.lookup(t, assessment.KindQuestionSet, "tag:set")
	assert.Equal(t, []string{"tag:q2", "tag:q1"}, set.Refs)
	assert.Equal(t, "tag:A", set.Parent)
	assert.Equal(t, []string{"tag:set"}, h.lookup(t, assessment.KindAssignment, "tag:asg").Refs)

	for _, item := range h.be.Items() {
		_, ok := h.be.QueryID(item)
		assert.True(t, ok, item.NTIID)
		assert.True(t, h.be.IsPublished(item), item.NTIID)
	}
}

func TestSyncAdd_ForwardReferencesResolve(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	d := doc(
		node("tag:A", "a.html", `"tag:asg": {"Class": "Assignment", "parts": [{"question_set": "tag:set"}]}`),
		node("tag:B", "b.html", `"tag:set": {"Class": "QuestionSet", "questions": ["tag:q1"]}, `+question("tag:q1", "x")),
	)
	_, err := h.c.SyncAdd(pkg, source(d, t0))
	require.NoError(t, err)

	assert.Equal(t, "tag:A", h.lookup(t, assessment.KindAssignment, "tag:asg").Parent)
	assert.Equal(t, "tag:B", h.lookup(t, assessment.KindQuestionSet, "tag:set").Parent)
	assert.Equal(t, "tag:B", h.lookup(t, assessment.KindQuestion, "tag:q1").Parent)
}

func TestSyncAdd_MissingDependencyAbortsPass(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	d := doc(node("tag:A", "a.html",
		question("tag:q1", "x")+`, "tag:set": {"Class": "QuestionSet", "questions": ["tag:q1", "tag:nope"]}`))
	_, err := h.c.SyncAdd(pkg, source(d, t0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDependency))

	assert.Equal(t, 0, h.be.Len())
	assert.Equal(t, 0, h.be.IDCount())
	_, ok := h.be.Container("tag:pkg")
	assert.False(t, ok, "aborted pass must leave no gate behind")
}

func TestSyncAdd_OrderingIsDeterministic(t *testing.T) {
	q := `"q": {"Class": "Question"}`
	s := `"s": {"Class": "QuestionSet", "questions": ["q"]}`
	a := `"a": {"Class": "Assignment", "parts": [{"question_set": "s"}]}`

	type placement struct {
		parents    map[string]string
		containers map[string][]string
		added      []string
	}
	var want *placement

	for _, order := range [][]string{{q, s, a}, {q, a, s}, {s, q, a}, {s, a, q}, {a, q, s}, {a, s, q}} {
		h := newHarness(t)
		pkg := pkgAB()
		items := order[0] + ", " + order[1] + ", " + order[2]
		res, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", items)), t0))
		require.NoError(t, err)

		got := &placement{parents: map[string]string{}, containers: map[string][]string{}, added: res.Added()}
		for _, item := range h.be.Items() {
			got.parents[item.NTIID] = item.Parent
		}
		for _, unit := range []string{"tag:pkg", "tag:A", "tag:B"} {
			got.containers[unit] = h.containerIDs(unit)
		}
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []string{"a", "s", "q"}, want.added)
}

func TestSyncAdd_DuplicateIndexHTMLRefusesAttachments(t *testing.T) {
	h := newHarness(t)
	pkg := content.NewPackage("tag:pkg", "index.html", []*content.Unit{content.Child("tag:X", "index.html")})

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:X", "index.html", question("tag:q1", "x"))), t0))
	require.NoError(t, err)

	assert.Equal(t, 0, h.be.Len())
	assert.Contains(t, h.log.String(), "refusing to attach")
}

func TestSyncAdd_NestedIndexHTMLOutsideTheTreeIsRefused(t *testing.T) {
	h := newHarness(t)
	pkg := content.NewPackage("tag:pkg", "index.html", nil)

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:X", "index.html", question("tag:q1", "x"))), t0))
	require.NoError(t, err)

	assert.Equal(t, 0, h.be.Len())
	assert.Empty(t, h.containerIDs("tag:pkg"))
	assert.Contains(t, h.log.String(), "refusing to attach")
}

func TestSyncAdd_NTIIDReusedAcrossKindsIsFatal(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	_, err := h.c.SyncAdd(pkg, source(doc(
		node("tag:A", "a.html", `"x": {"Class": "Question"}`),
		node("tag:B", "b.html", `"x": {"Class": "Poll"}`),
	), t0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKindConflict))
	assert.Equal(t, 0, h.be.Len())

	_, err = h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", `"x": {"Class": "Question"}`)), t0))
	require.NoError(t, err)
	_, err = h.c.Resync(pkg, source(doc(node("tag:B", "b.html", `"x": {"Class": "Poll"}`)), t1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKindConflict), "a registered ntiid keeps its kind")
	h.lookup(t, assessment.KindQuestion, "x")
	_, ok := h.be.Lookup(assessment.KindPoll, "x")
	assert.False(t, ok)
}

func TestSyncAdd_LockedCompositeKeepsItsConstituents(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()
	set := func(content string) string {
		return `"tag:set": {"Class": "QuestionSet", "questions": [{"NTIID": "tag:q1", "Class": "Question", "content": "` +
			content + `"}]}`
	}

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", set("A"))), t0))
	require.NoError(t, err)
	q1 := h.lookup(t, assessment.KindQuestion, "tag:q1")
	require.Equal(t, "A", q1.Content)
	h.lookup(t, assessment.KindQuestionSet, "tag:set").Locked = true

	res, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", set("B"))), t1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tag:set", "tag:q1"}, res.Preserved())
	assert.Empty(t, res.Updated())

	after := h.lookup(t, assessment.KindQuestion, "tag:q1")
	assert.Same(t, q1, after)
	assert.Equal(t, "A", after.Content)
	assert.Equal(t, []string{"tag:q1", "tag:set"}, h.containerIDs("tag:A"))
}

func TestSyncAdd_MissingDependencyRestoresRefreshedItems(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html", question("tag:q1", "A"))), t0))
	require.NoError(t, err)
	q1 := h.lookup(t, assessment.KindQuestion, "tag:q1")

	_, err = h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html",
		question("tag:q1", "B")+`, "tag:set": {"Class": "QuestionSet", "questions": ["tag:nope"]}`)), t1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDependency))

	after := h.lookup(t, assessment.KindQuestion, "tag:q1")
	assert.Same(t, q1, after)
	assert.Equal(t, "A", after.Content)
	assert.Equal(t, 1, h.be.Len())

	root, ok := h.be.Container("tag:pkg")
	require.True(t, ok)
	assert.Equal(t, t0, root.LastModified)
}

func TestSyncAdd_DuplicateFilenameSharesContainer(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	_, err := h.c.SyncAdd(pkg, source(doc(
		node("tag:A", "a.html", question("tag:q1", "x")),
		node("tag:B", "a.html", question("tag:q2", "y")),
	), t0))
	require.NoError(t, err)

	assert.Equal(t, 2, h.be.Len())
	assert.Equal(t, []string{"tag:q1", "tag:q2"}, h.containerIDs("tag:A"))
	assert.Contains(t, h.log.String(), "duplicate container key")
}

func TestSyncAdd_UnpublishableItemStaysUnpublished(t *testing.T) {
	h := newHarness(t)
	pkg := pkgAB()

	_, err := h.c.SyncAdd(pkg, source(doc(node("tag:A", "a.html",
		`"tag:q1": {"Class": "Question", "publishable": false}, `+question("tag:q2", "y"))), t0))
	require.NoError(t, err)

	assert.False(t, h.be.IsPublished(h.lookup(t, assessment.KindQuestion, "tag:q1")))
	assert.True(t, h.be.IsPublished(h.lookup(t, assessment.KindQuestion, "tag:q2")))
}

func TestSyncAdd_MalformedIndexIsFatal(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.SyncAdd(pkgAB(), source(`{"nope": {}}`, t0))
	require.Error(t, err)
	assert.Equal(t, 0, h.be.Len())
}
