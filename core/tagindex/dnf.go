package tagindex

// TagsQuery is one conjunction of the normalized DNF: it matches an event
// whose TagSet is a superset of RequiredTags, plus the non-tag atoms.
type TagsQuery struct {
	RequiredTags TagSet
	AppId        *string
	FromTime     *int64 // inclusive lower bound, micros
	ToTime       *int64 // inclusive upper bound, micros
	IsLocal      bool
	impossible   bool
}

func emptyConjunction() TagsQuery {
	return TagsQuery{RequiredTags: TagSet{}}
}

// merge combines two conjunctions as required when distributing an AND
// across two DNFs. Returns a conjunction marked impossible if the atoms
// conflict (e.g. two different required AppIds).
func merge(a, b TagsQuery) TagsQuery {
	if a.impossible || b.impossible {
		return TagsQuery{impossible: true}
	}
	out := TagsQuery{RequiredTags: make(TagSet, len(a.RequiredTags)+len(b.RequiredTags))}
	for t := range a.RequiredTags {
		out.RequiredTags[t] = struct{}{}
	}
	for t := range b.RequiredTags {
		out.RequiredTags[t] = struct{}{}
	}

	switch {
	case a.AppId == nil:
		out.AppId = b.AppId
	case b.AppId == nil:
		out.AppId = a.AppId
	case *a.AppId == *b.AppId:
		out.AppId = a.AppId
	default:
		out.impossible = true
	}

	out.FromTime = maxPtr(a.FromTime, b.FromTime)
	out.ToTime = minPtr(a.ToTime, b.ToTime)
	out.IsLocal = a.IsLocal || b.IsLocal
	return out
}

func maxPtr(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a > *b {
		return a
	}
	return b
}

func minPtr(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}

// Normalize converts a tag expression into disjunctive normal form: a list
// of conjunctions, any of which satisfying an event is enough.
func Normalize(e Expr) []TagsQuery {
	dnf := normalize(e)
	out := dnf[:0]
	for _, c := range dnf {
		if !c.impossible {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		// Every disjunct turned out impossible: this matches nothing; we
		// still return a single impossible conjunction so callers can
		// distinguish "no results" from "unfiltered scan" (IsAll).
		return []TagsQuery{{impossible: true}}
	}
	return out
}

func normalize(e Expr) []TagsQuery {
	switch v := e.(type) {
	case AllEvents:
		return []TagsQuery{emptyConjunction()}
	case TagExpr:
		c := emptyConjunction()
		c.RequiredTags[v.Tag] = struct{}{}
		return []TagsQuery{c}
	case AppIdExpr:
		c := emptyConjunction()
		id := v.AppId
		c.AppId = &id
		return []TagsQuery{c}
	case FromTimeExpr:
		c := emptyConjunction()
		t := v.Micros
		c.FromTime = &t
		return []TagsQuery{c}
	case ToTimeExpr:
		c := emptyConjunction()
		t := v.Micros
		c.ToTime = &t
		return []TagsQuery{c}
	case IsLocalExpr:
		c := emptyConjunction()
		c.IsLocal = true
		return []TagsQuery{c}
	case AndExpr:
		left := normalize(v.Left)
		right := normalize(v.Right)
		out := make([]TagsQuery, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				out = append(out, merge(l, r))
			}
		}
		return out
	case OrExpr:
		return append(normalize(v.Left), normalize(v.Right)...)
	default:
		return []TagsQuery{emptyConjunction()}
	}
}

// IsAll reports whether dnf contains the empty conjunction (no tags, no
// app id, no time bounds, not local-only), i.e. an unfiltered scan.
func IsAll(dnf []TagsQuery) bool {
	for _, c := range dnf {
		if c.impossible {
			continue
		}
		if len(c.RequiredTags) == 0 && c.AppId == nil && c.FromTime == nil && c.ToTime == nil && !c.IsLocal {
			return true
		}
	}
	return false
}

// Event is the minimal view of an event TagsQuery needs to decide a match.
type Event struct {
	Tags    TagSet
	AppId   string
	Micros  int64
	IsLocal bool
}

// Matches reports whether ev satisfies this single conjunction.
func (q TagsQuery) Matches(ev Event) bool {
	if q.impossible {
		return false
	}
	if !ev.Tags.Supersets(q.RequiredTags) {
		return false
	}
	if q.AppId != nil && *q.AppId != ev.AppId {
		return false
	}
	if q.FromTime != nil && ev.Micros < *q.FromTime {
		return false
	}
	if q.ToTime != nil && ev.Micros > *q.ToTime {
		return false
	}
	if q.IsLocal && !ev.IsLocal {
		return false
	}
	return true
}

// MatchesAny reports whether ev satisfies at least one conjunction of dnf.
func MatchesAny(dnf []TagsQuery, ev Event) bool {
	for _, c := range dnf {
		if c.Matches(ev) {
			return true
		}
	}
	return false
}
