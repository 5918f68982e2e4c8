package index

import (
	"math"
	"sort"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-assess/internal/assessment"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// ErrMalformedIndex marks an index that cannot be synced at all.
var ErrMalformedIndex = errors.New("malformed assessment index")

const rootFilename = "index.html"

//
// Parser turns raw index json into an Index. Irregular content that
// older exports are known to produce is logged and skipped, only
// structurally broken documents fail.
//
type Parser struct {
	log *log.Logger
}

// NewParser returns a parser logging to l (a default logger when nil).
func NewParser(l *log.Logger) *Parser {
	if l == nil {
		l = log.New("index")
	}
	return &Parser{log: l}
}

// Parse is a convenience for NewParser(nil).Parse(data).
func Parse(data []byte) (*Index, error) {
	return NewParser(nil).Parse(data)
}

//
// Parse reads an assessment index document.
//
// The root object must carry an "Items" map. The root index.html entry
// may not carry assessment items directly.
//
func (p *Parser) Parse(data []byte) (*Index, error) {

	if !gjson.ValidBytes(data) {
		return nil, errors.Wrap(ErrMalformedIndex, "document is not valid json")
	}
	doc := gjson.ParseBytes(data)
	items := doc.Get("Items")
	if !items.IsObject() {
		return nil, errors.Wrap(ErrMalformedIndex, "root has no Items map")
	}

	idx := &Index{}
	if lm := doc.Get("Last Modified"); lm.Exists() && lm.Type == gjson.Number {
		sec, frac := math.Modf(lm.Float())
		idx.LastModified = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	seen := map[string]int{}
	for _, m := range members(items) {
		if !m.value.IsObject() {
			p.log.Warnf("index root entry %s is not an object, skipping", m.key)
			continue
		}
		if m.value.Get("filename").String() == rootFilename && len(members(m.value.Get("AssessmentItems"))) > 0 {
			return nil, errors.Wrapf(ErrMalformedIndex, "root entry %s (%s) carries assessment items", m.key, rootFilename)
		}
		n, err := p.parseNode(m.key, m.value, seen)
		if err != nil {
			return nil, err
		}
		idx.Roots = append(idx.Roots, n)
	}

	return idx, nil
}

func (p *Parser) parseNode(key string, v gjson.Result, seen map[string]int) (*Node, error) {

	n := &Node{
		Key:      key,
		NTIID:    v.Get("NTIID").String(),
		Filename: v.Get("filename").String(),
	}

	if n.Filename == rootFilename && seen[rootFilename] > 0 {
		p.log.Warnf("index entry %s repeats %s", n.ID(), rootFilename)
	}
	seen[n.Filename]++

	n.Signatures = map[string]string{}
	for _, m := range members(v.Get("Signatures")) {
		if m.value.Type == gjson.String {
			n.Signatures[m.key] = m.value.String()
		} else {
			n.Signatures[m.key] = m.value.Raw
		}
	}

	raw := members(v.Get("AssessmentItems"))
	switch {
	case len(raw) == 0:
	case !n.CanCarryItems():
		p.log.Warnf("index entry %s has no usable filename (%q), ignoring %d assessment items",
			n.ID(), n.Filename, len(raw))
	default:
		for _, m := range raw {
			d, err := p.parseDescriptor(m.key, m.value, n.Signatures, assessment.KindOther)
			if err != nil {
				return nil, err
			}
			if d == nil {
				continue
			}
			n.Descriptors = append(n.Descriptors, d)
		}
		SortDescriptors(n.Descriptors)
	}

	for _, m := range members(v.Get("Items")) {
		if !m.value.IsObject() {
			p.log.Warnf("index entry %s under %s is not an object, skipping", m.key, n.ID())
			continue
		}
		child, err := p.parseNode(m.key, m.value, seen)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}

	return n, nil
}

//
// parseDescriptor classifies one item payload. fallback is the kind an
// inline constituent takes when its payload does not say.
//
func (p *Parser) parseDescriptor(ntiid string, v gjson.Result, sigs map[string]string, fallback assessment.Kind) (*Descriptor, error) {

	if !v.IsObject() {
		p.log.Warnf("assessment item %s is not an object, skipping", ntiid)
		return nil, nil
	}
	if inner := v.Get("NTIID").String(); inner != "" && inner != ntiid {
		p.log.Warnf("assessment item keyed %s declares NTIID %s, using key", ntiid, inner)
	}

	d := &Descriptor{
		NTIID:       ntiid,
		MimeType:    v.Get("MimeType").String(),
		Title:       v.Get("title").String(),
		Content:     v.Get("content").String(),
		Signature:   sigs[ntiid],
		Raw:         v.Get("@ugly").Raw,
		Publishable: true,
	}
	d.Kind = assessment.ClassifyMime(d.MimeType, v.Get("Class").String())
	if d.Kind == assessment.KindOther && fallback != assessment.KindOther {
		d.Kind = fallback
	}
	if pub := v.Get("publishable"); pub.Exists() {
		d.Publishable = pub.Bool()
	}

	var refs []gjson.Result
	switch d.Kind {
	case assessment.KindAssignment:
		v.Get("parts").ForEach(func(_, part gjson.Result) bool {
			refs = append(refs, part.Get("question_set"))
			return true
		})
	case assessment.KindQuestionSet, assessment.KindSurvey:
		v.Get("questions").ForEach(func(_, q gjson.Result) bool {
			refs = append(refs, q)
			return true
		})
	}

	for _, r := range refs {
		switch {
		case r.Type == gjson.String && r.String() != "":
			d.Refs = append(d.Refs, Ref{NTIID: r.String()})
		case r.IsObject():
			id := r.Get("NTIID").String()
			if id == "" {
				return nil, errors.Wrapf(ErrMalformedIndex, "inline constituent of %s has no NTIID", ntiid)
			}
			sub, err := p.parseDescriptor(id, r, sigs, d.Kind.RefKind())
			if err != nil {
				return nil, err
			}
			d.Refs = append(d.Refs, Ref{NTIID: id, Inline: sub})
		default:
			p.log.Warnf("assessment item %s has an empty constituent, skipping it", ntiid)
		}
	}

	return d, nil
}

//
// SortDescriptors puts descriptors in visitation order: assignments,
// surveys, question sets, then everything else, ties by NTIID. The
// order of the source map never leaks into registration.
//
func SortDescriptors(ds []*Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		pi, pj := ds[i].Kind.Priority(), ds[j].Kind.Priority()
		if pi != pj {
			return pi < pj
		}
		return ds[i].NTIID < ds[j].NTIID
	})
}

type member struct {
	key   string
	value gjson.Result
}

// members returns the entries of a json object sorted by key.
func members(obj gjson.Result) []member {
	if !obj.IsObject() {
		return nil
	}
	var out []member
	obj.ForEach(func(k, v gjson.Result) bool {
		out = append(out, member{key: k.String(), value: v})
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
