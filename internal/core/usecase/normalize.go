package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// NormalizeQuery builds the immutable per-request Query value. It is pure
// and deterministic: the fingerprint doubles as the cache key, so the same
// question with the same filters under the same config version always maps
// to the same entry.
func NormalizeQuery(raw string, filter domain.SearchFilter, maxChars int, configVersion string) (domain.Query, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "normalize query", fmt.Errorf("empty question"))
	}
	if maxChars > 0 && len(trimmed) > maxChars {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "normalize query",
			fmt.Errorf("question length %d exceeds limit %d", len(trimmed), maxChars))
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
	terms := tokenize(normalized)

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(filter.ProjectID))
	h.Write([]byte{0})
	h.Write([]byte(filter.DocumentID))
	h.Write([]byte{0})
	h.Write([]byte(configVersion))

	return domain.Query{
		Raw:         trimmed,
		Normalized:  normalized,
		Terms:       terms,
		Filter:      filter,
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// tokenize splits into lowercased alphanumeric runs. Letters outside ASCII
// are kept so non-English jargon survives as terms.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
