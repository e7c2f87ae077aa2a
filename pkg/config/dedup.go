package config

// DedupConfig tunes the deduplication engine (pkg/dedup) described by the
// four-phase pipeline: identifier shortcut, candidate recall, deep
// determination, and action resolution.
type DedupConfig struct {
	// TrustedUniqueIdentifierTypes are the identifier types treated as
	// globally unique (Phase 1 shortcut): a shared value of one of these
	// types is conclusive evidence of a DUPLICATE without running
	// deep determination.
	TrustedUniqueIdentifierTypes []string `yaml:"trusted_unique_identifier_types"`

	// CandidateRecallLimit (K) bounds how many candidates Phase 2 pulls
	// from the search store per incoming reference.
	CandidateRecallLimit int `yaml:"candidate_recall_limit"`

	// DuplicateScoreThreshold is the minimum Jaccard/bigram similarity
	// score at which Phase 3 calls a candidate pair DUPLICATE.
	DuplicateScoreThreshold float64 `yaml:"duplicate_score_threshold"`

	// UnresolvedScoreThreshold is the minimum score at which an
	// ambiguous pair is recorded UNRESOLVED rather than rejected as a
	// candidate. Scores below this floor are treated as unrelated references.
	UnresolvedScoreThreshold float64 `yaml:"unresolved_score_threshold"`

	// AuthorOverlapSaturation bounds how many shared authors count toward
	// the author-overlap term of the similarity score, preventing a large
	// shared author list from inflating the score on its own.
	AuthorOverlapSaturation int `yaml:"author_overlap_saturation"`

	// PromotionRetryLimit bounds how many times Phase 4 retries a decision
	// promotion after a DecisionStale optimistic-concurrency conflict
	// before giving up and recording the reference as UNRESOLVED for manual
	// review.
	PromotionRetryLimit int `yaml:"promotion_retry_limit"`
}

// DefaultDedupConfig returns the built-in dedup defaults.
func DefaultDedupConfig() *DedupConfig {
	return &DedupConfig{
		TrustedUniqueIdentifierTypes: []string{"doi", "pm_id"},
		CandidateRecallLimit:         25,
		DuplicateScoreThreshold:      0.5,
		UnresolvedScoreThreshold:     0.3,
		AuthorOverlapSaturation:      5,
		PromotionRetryLimit:          3,
	}
}
