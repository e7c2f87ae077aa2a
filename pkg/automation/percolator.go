// Package automation evaluates registered RobotAutomation queries against
// every projection rebuild's percolation document and folds matching robots
// into a short per-robot aggregation window, flushing each window into one
// EnhancementRequest (spec.md §4.H).
package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/destiny/pkg/models"
)

// toDocument flattens a PercolationDocument into the nested map a Query is
// matched against, keyed the way TermQuery.Field and NestedQuery.Path
// address it: dot-separated from the document root, e.g.
// "changeset.source_robot_id" or "reference.visibility".
func toDocument(doc models.PercolationDocument) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal percolation document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal percolation document: %w", err)
	}
	return out, nil
}

// Evaluate reports whether query q matches document doc.
func Evaluate(q models.Query, doc map[string]any) bool {
	switch {
	case q.Term != nil:
		return matchTerm(*q.Term, doc)
	case q.Nested != nil:
		return matchNested(*q.Nested, doc)
	}

	for _, sub := range q.Must {
		if !Evaluate(sub, doc) {
			return false
		}
	}
	for _, sub := range q.MustNot {
		if Evaluate(sub, doc) {
			return false
		}
	}
	if len(q.Should) > 0 {
		matched := false
		for _, sub := range q.Should {
			if Evaluate(sub, doc) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchTerm(t models.TermQuery, doc map[string]any) bool {
	val, ok := lookupPath(doc, t.Field)
	if !ok {
		return false
	}
	return containsValue(val, t.Value)
}

// matchNested evaluates n.Query against each element found at n.Path,
// fields addressed relative to that element — so a correlated condition
// across two fields of the same array entry (e.g. one added identifier
// whose type and value both match) is only satisfied by a single element,
// not by the broadcast union a plain dotted TermQuery would produce.
func matchNested(n models.NestedQuery, doc map[string]any) bool {
	if n.Query == nil {
		return false
	}
	val, ok := lookupPath(doc, n.Path)
	if !ok {
		return false
	}
	elems, ok := val.([]any)
	if !ok {
		elems = []any{val}
	}
	for _, elem := range elems {
		sub, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if Evaluate(*n.Query, sub) {
			return true
		}
	}
	return false
}

// lookupPath walks a dotted path through nested maps and slices. A path
// segment encountered against a slice is treated as an index when numeric,
// otherwise broadcast across every element and the matches returned as a
// slice; when no element matches, the path is reported as not found.
func lookupPath(node any, path string) (any, bool) {
	if path == "" {
		return node, true
	}
	parts := strings.SplitN(path, ".", 2)
	key := parts[0]
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch v := node.(type) {
	case map[string]any:
		child, ok := v[key]
		if !ok {
			return nil, false
		}
		if rest == "" {
			return child, true
		}
		return lookupPath(child, rest)
	case []any:
		if idx, err := strconv.Atoi(key); err == nil {
			if idx < 0 || idx >= len(v) {
				return nil, false
			}
			if rest == "" {
				return v[idx], true
			}
			return lookupPath(v[idx], rest)
		}
		full := key
		if rest != "" {
			full = key + "." + rest
		}
		var results []any
		found := false
		for _, elem := range v {
			if val, ok := lookupPath(elem, full); ok {
				results = append(results, val)
				found = true
			}
		}
		return results, found
	default:
		return nil, false
	}
}

func containsValue(val any, want string) bool {
	switch v := val.(type) {
	case nil:
		return false
	case []any:
		for _, elem := range v {
			if containsValue(elem, want) {
				return true
			}
		}
		return false
	case string:
		return v == want
	case bool:
		return strconv.FormatBool(v) == want
	default:
		return fmt.Sprint(v) == want
	}
}

// Validate rejects an automation query that never touches the changeset
// subdocument anywhere in its tree. A query built only from reference
// fields would match on every rebuild of the reference it names, turning
// every incidental write into a dispatch — spec.md §4.H requires the query
// to discriminate on what just changed, so this is enforced at
// registration time rather than left to misfire at match time.
func Validate(q models.Query) error {
	if !referencesChangeset(q) {
		return fmt.Errorf("automation query must reference the changeset subdocument")
	}
	return nil
}

func referencesChangeset(q models.Query) bool {
	switch {
	case q.Term != nil:
		return q.Term.Field == "changeset" || strings.HasPrefix(q.Term.Field, "changeset.")
	case q.Nested != nil:
		if q.Nested.Path == "changeset" || strings.HasPrefix(q.Nested.Path, "changeset.") {
			return true
		}
		if q.Nested.Query != nil {
			return referencesChangeset(*q.Nested.Query)
		}
		return false
	}
	for _, sub := range q.Must {
		if referencesChangeset(sub) {
			return true
		}
	}
	for _, sub := range q.Should {
		if referencesChangeset(sub) {
			return true
		}
	}
	for _, sub := range q.MustNot {
		if referencesChangeset(sub) {
			return true
		}
	}
	return false
}
