package tagindex

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// summaryBits/summaryHashes size the per-leaf-group Bloom filter. The exact
// bit layout is explicitly left as an implementation detail by spec.md §9;
// peers only need to agree on the DAG-CBOR schema of tree nodes, not on the
// summary's internal representation.
const (
	summaryBits   = 2048
	summaryHashes = 4
)

// Summary is a compressed, conservative index of every tag that appears
// anywhere in a subtree: "any leaf below contains at least one term
// matching the query" pruning (spec.md §3). A branch may be retained even
// if no descendant actually matches (false positive), but a branch is
// never discarded unless it is certain not to match (no false negatives).
type Summary struct {
	filter *bloom.BloomFilter
}

// BuildSummary constructs a Summary covering every tag in the given TagSets
// (typically the keys of a leaf's items).
func BuildSummary(tagSets []TagSet) Summary {
	f := bloom.New(summaryBits, summaryHashes)
	for _, ts := range tagSets {
		for t := range ts {
			f.Add([]byte(t))
		}
	}
	return Summary{filter: f}
}

// Merge produces the summary of the union of the subtrees the inputs
// summarize: the union of their Bloom filters.
func Merge(summaries ...Summary) Summary {
	f := bloom.New(summaryBits, summaryHashes)
	for _, s := range summaries {
		if s.filter != nil {
			f.Merge(s.filter)
		}
	}
	return Summary{filter: f}
}

// MayContain reports whether tag could be present in the summarized
// subtree. False means "definitely absent"; true may be a false positive.
func (s Summary) MayContain(t Tag) bool {
	if s.filter == nil {
		return false
	}
	return s.filter.Test([]byte(t))
}

// PossiblyMatches is the branch-pruning predicate of spec.md §4.5: this
// conjunction is retained unless one of its required tags is certainly
// absent from the subtree. Non-tag atoms (AppId, time bounds, IsLocal)
// cannot be pruned by the tags summary alone, so they never cause a
// subtree to be skipped here — only leaves resolve them exactly.
func (s Summary) PossiblyMatches(q TagsQuery) bool {
	if q.impossible {
		return false
	}
	for t := range q.RequiredTags {
		if !s.MayContain(t) {
			return false
		}
	}
	return true
}

// PossiblyMatchesAny reports whether the subtree summarized by s could
// satisfy at least one conjunction of dnf.
func (s Summary) PossiblyMatchesAny(dnf []TagsQuery) bool {
	for _, q := range dnf {
		if s.PossiblyMatches(q) {
			return true
		}
	}
	return false
}

// MarshalBinary encodes the filter for embedding in a CBOR tree node.
func (s Summary) MarshalBinary() ([]byte, error) {
	if s.filter == nil {
		s.filter = bloom.New(summaryBits, summaryHashes)
	}
	return s.filter.MarshalBinary()
}

// UnmarshalBinary decodes a filter previously produced by MarshalBinary.
func (s *Summary) UnmarshalBinary(data []byte) error {
	f := &bloom.BloomFilter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return err
	}
	s.filter = f
	return nil
}
