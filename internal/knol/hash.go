package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/mathdrill/internal/domain"
)

// Normalize reduces an item's prompt and answer to a canonical form.
// Metadata (unit, topic, tier) is deliberately left out so that
// re-filing an item does not orphan its learners' cards.
func Normalize(item domain.Item) string {
	normalizePart := func(part string) string {
		p := strings.ReplaceAll(part, "\r\n", "\n")
		lines := strings.Split(p, "\n")
		for i, l := range lines {
			lines[i] = strings.Join(strings.Fields(l), " ")
		}
		return strings.ToLower(strings.TrimSpace(strings.Join(lines, "\n")))
	}

	return normalizePart(item.Prompt) + "\n" + normalizePart(item.Answer)
}

// Hash returns the item's stable identifier: the hex SHA-256 of its
// normalized content.
func Hash(item domain.Item) string {
	sum := sha256.Sum256([]byte(Normalize(item)))
	return hex.EncodeToString(sum[:])
}
