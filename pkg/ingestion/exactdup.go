package ingestion

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/codeready-toolchain/destiny/pkg/models"
)

// enhancementKey is the logical update key plus a content digest, so two
// enhancements with the same (source, type) but different content are
// never mistaken for the same contribution.
func enhancementKey(source string, typ models.EnhancementType, content []byte) string {
	sum := sha256.Sum256(content)
	return source + "\x00" + string(typ) + "\x00" + hex.EncodeToString(sum[:])
}

// isExactDuplicate reports whether every identifier and enhancement an
// incoming record carries is already present on an existing reference —
// spec.md §4.D step 3's "existing reference's hash is a superset" check,
// expressed as direct set containment rather than a single combined hash
// so a missing single tuple can't be masked by hash collision noise.
func isExactDuplicate(incomingIDs []models.IncomingIdentifier, incomingEnhs []models.IncomingEnhancement, existingIDs []models.ExternalIdentifier, existingEnhs []models.Enhancement) bool {
	existingIDKeys := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		existingIDKeys[id.Key()] = struct{}{}
	}
	for _, id := range incomingIDs {
		key := models.ExternalIdentifier{
			IdentifierType:      id.IdentifierType,
			Identifier:          id.Identifier,
			OtherIdentifierName: id.OtherIdentifierName,
		}.Key()
		if _, ok := existingIDKeys[key]; !ok {
			return false
		}
	}

	existingEnhKeys := make(map[string]struct{}, len(existingEnhs))
	for _, e := range existingEnhs {
		existingEnhKeys[enhancementKey(e.Source, e.Type, e.Content)] = struct{}{}
	}
	for _, e := range incomingEnhs {
		if _, ok := existingEnhKeys[enhancementKey(e.Source, e.Type, e.Content)]; !ok {
			return false
		}
	}

	return true
}
