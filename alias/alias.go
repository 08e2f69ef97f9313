// Package alias turns an off-chain identity into the key used to look up its recipient.
package alias

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrEmptyIdentity = errors.New("empty identity")

type ExistsResult string

const (
	Match            ExistsResult = "match"
	MaybeNeedsSuffix ExistsResult = "maybe_needs_suffix"
	NotFound         ExistsResult = "not_found"
)

// Identity is a normalized identity together with its optional suffix.
type Identity struct {
	Normalized string
	Suffix     string
}

// Parse normalizes the raw identity. A "#suffix" tail or a "+tag" in the local
// part is split off as the suffix, unless an explicit suffix is given.
func Parse(raw string, suffix *string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	base, inferred := trimmed, ""
	if i := strings.LastIndex(trimmed, "#"); i >= 0 {
		base, inferred = trimmed[:i], trimmed[i+1:]
	} else {
		at := strings.Index(trimmed, "@")
		plus := strings.Index(trimmed, "+")
		if plus >= 0 && at > plus {
			inferred = trimmed[plus+1 : at]
			base = trimmed[:plus] + trimmed[at:]
		}
	}
	if suffix != nil {
		inferred = *suffix
	}
	id := Identity{
		Normalized: Normalize(base),
		Suffix:     Normalize(inferred),
	}
	if id.Normalized == "" {
		return Identity{}, ErrEmptyIdentity
	}
	return id, nil
}

func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Key is keccak256(normalized || "#" || suffix).
func (id Identity) Key() common.Hash {
	return Key(id.Normalized, id.Suffix)
}

func Key(normalized, suffix string) common.Hash {
	return crypto.Keccak256Hash([]byte(normalized + "#" + suffix))
}

// EvaluateExists decides the alias lookup answer. With an explicit suffix only an
// exact match counts. Without one, the unsuffixed alias wins and suffixed variants
// only hint that a suffix is required.
func EvaluateExists(hasExact, hasBase, hasSuffixed, suffixProvided bool) ExistsResult {
	switch {
	case suffixProvided && hasExact:
		return Match
	case suffixProvided:
		return NotFound
	case hasBase:
		return Match
	case hasSuffixed:
		return MaybeNeedsSuffix
	default:
		return NotFound
	}
}
