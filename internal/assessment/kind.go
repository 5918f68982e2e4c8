//
// Package assessment holds the persistent model shared by the
// question-map synchronizer: assessment items, the per content-unit
// containers that home them, and the content tree they hang from.
//
package assessment

import "strings"

//
// Kind classifies an assessment item. The registry is keyed on
// (Kind, NTIID).
//
type Kind string

const (
	KindAssignment  Kind = "assignment"
	KindSurvey      Kind = "survey"
	KindQuestionSet Kind = "questionset"
	KindQuestion    Kind = "question"
	KindPoll        Kind = "poll"
	KindOther       Kind = "other"
)

// Kinds lists every kind in visitation priority order.
var Kinds = []Kind{KindAssignment, KindSurvey, KindQuestionSet, KindQuestion, KindPoll, KindOther}

//
// Priority is the fixed visitation rank used when walking the items of
// a single index node: assignments first, then surveys, then question
// sets, then everything else.
//
func (k Kind) Priority() int {
	switch k {
	case KindAssignment:
		return 0
	case KindSurvey:
		return 1
	case KindQuestionSet:
		return 2
	default:
		return 3
	}
}

// Composite reports whether items of this kind reference sub-items.
func (k Kind) Composite() bool {
	return k == KindAssignment || k == KindQuestionSet || k == KindSurvey
}

//
// RefKind is the kind every constituent reference of a composite must
// resolve to: assignment parts are question sets, question sets hold
// questions and surveys hold polls.
//
func (k Kind) RefKind() Kind {
	switch k {
	case KindAssignment:
		return KindQuestionSet
	case KindQuestionSet:
		return KindQuestion
	case KindSurvey:
		return KindPoll
	default:
		return KindOther
	}
}

//
// ParseKind maps a kind name back to a Kind, used by lookups that
// arrive as text (http params, persisted state).
//
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

//
// ClassifyMime derives the kind from an authoring-tool mime type such
// as application/vnd.nextthought.naquestionset, falling back to the
// bare class name (QuestionSet, Assignment...) when no mime is given.
//
func ClassifyMime(mime, class string) Kind {
	m := strings.ToLower(mime)
	if i := strings.LastIndex(m, "."); i >= 0 {
		m = m[i+1:]
	}
	if m == "" {
		m = strings.ToLower(class)
	}
	switch {
	case strings.Contains(m, "assignmentpart"):
		return KindOther
	case strings.Contains(m, "assignment"):
		return KindAssignment
	case strings.Contains(m, "survey"):
		return KindSurvey
	case strings.Contains(m, "questionset"), strings.Contains(m, "questionbank"):
		return KindQuestionSet
	case strings.Contains(m, "poll"):
		return KindPoll
	case strings.Contains(m, "question"):
		return KindQuestion
	default:
		return KindOther
	}
}
