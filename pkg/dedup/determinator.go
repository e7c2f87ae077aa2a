package dedup

import "github.com/codeready-toolchain/destiny/pkg/models"

// Features carries every signal Phase 3 computes for one (reference,
// candidate) pair.
type Features struct {
	TitleJaccard               float64
	TokenJaccard               float64
	BigramJaccard              float64
	AuthorOverlap              float64
	YearMatch                  bool
	SharedNonTrustedIdentifier bool
	LengthRatio                float64
	NumberTokensDisagree       bool
	ConflictKeyword            bool
}

// Determinator is the pluggable Phase 3 decision rule. An empty
// Determination means "reject this candidate, keep looking" — it is not
// itself a valid models.Determination value.
type Determinator interface {
	Determine(f Features) models.Determination
}

// DeterminatorFunc adapts a plain function to a Determinator.
type DeterminatorFunc func(f Features) models.Determination

func (fn DeterminatorFunc) Determine(f Features) models.Determination { return fn(f) }

// NewDefaultDeterminator builds spec.md §4.E Phase 3's threshold rule,
// parameterized on DedupConfig.DuplicateScoreThreshold and
// UnresolvedScoreThreshold rather than the spec text's literal 0.5/0.3, so
// the two stay in sync with whatever an operator configures.
func NewDefaultDeterminator(duplicateThreshold, unresolvedThreshold float64) Determinator {
	return DeterminatorFunc(func(f Features) models.Determination {
		if f.LengthRatio != 0 && f.LengthRatio < 0.3 {
			// Titles of wildly different length are never the same work,
			// regardless of how their tokens happen to overlap.
			return ""
		}

		if (f.TitleJaccard >= duplicateThreshold && f.YearMatch) ||
			(f.SharedNonTrustedIdentifier && f.TitleJaccard >= unresolvedThreshold) {
			return models.DeterminationDuplicate
		}

		if f.TitleJaccard >= unresolvedThreshold && f.TitleJaccard < duplicateThreshold &&
			(f.NumberTokensDisagree || f.ConflictKeyword) {
			return models.DeterminationUnresolved
		}

		return ""
	})
}
