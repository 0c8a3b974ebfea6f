package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/conorfennell/mathdrill/internal/domain"
)

func TestNormalize(t *testing.T) {
	item := domain.Item{
		Prompt: "  Solve   2x + 3 = 7 \r\nfor x ",
		Answer: "X = 2",
	}
	expected := "solve 2x + 3 = 7\nfor x\nx = 2"
	normalized := Normalize(item)

	if normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestHash(t *testing.T) {
	t.Run("matches sha256 of the normalized form", func(t *testing.T) {
		item := domain.Item{Prompt: "P", Answer: "A"}
		sum := sha256.Sum256([]byte("p\na"))
		expectedHash := hex.EncodeToString(sum[:])

		if hash := Hash(item); hash != expectedHash {
			t.Errorf("Expected hash '%s', but got '%s'", expectedHash, hash)
		}
	})

	t.Run("ignores metadata", func(t *testing.T) {
		item1 := domain.Item{Prompt: "What is 7 x 8?", Answer: "56", Unit: "number", Tier: domain.TierEasy}
		item2 := domain.Item{Prompt: "What is 7 x 8?", Answer: "56", Unit: "arithmetic", Tier: domain.TierHard}
		if Hash(item1) != Hash(item2) {
			t.Error("Expected unit and tier not to change the hash")
		}
	})

	t.Run("whitespace and case do not matter", func(t *testing.T) {
		item1 := domain.Item{Prompt: "  what is   pi? ", Answer: "3.14"}
		item2 := domain.Item{Prompt: "What is Pi?", Answer: "3.14"}
		if Hash(item1) != Hash(item2) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("different content differs", func(t *testing.T) {
		item1 := domain.Item{Prompt: "1 + 1", Answer: "2"}
		item2 := domain.Item{Prompt: "1 + 2", Answer: "3"}
		if Hash(item1) == Hash(item2) {
			t.Error("Expected hashes for different items to be different")
		}
	})
}
