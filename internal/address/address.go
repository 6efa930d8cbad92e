// Package address implements the pseudo-address codec used to mask real
// sender addresses behind alias-scoped reply addresses of the form
// <alias>+<hash>@<domain>.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed indicates an address that does not have the
// <alias>+<hash>@<domain> shape for the configured domain.
var ErrMalformed = errors.New("malformed pseudo-address")

// Hash returns the hex-encoded SHA-224 digest of s. The same input always
// yields the same digest, which is what makes pseudo-addresses stable across
// messages from the same sender.
func Hash(s string) string {
	sum := sha256.Sum224([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Compose builds the pseudo-address for an alias/hash pair on the given
// domain.
func Compose(alias, hash, domain string) string {
	return fmt.Sprintf("%s+%s@%s", alias, hash, domain)
}

// Decompose splits a pseudo-address back into its alias and hash parts.
// The local part must contain exactly one "+" separator with non-empty
// segments on both sides, and the domain must match the configured domain
// (ASCII case-insensitively). Compose and Decompose round-trip exactly:
// neither changes the case of the alias or hash.
func Decompose(pseudo, domain string) (alias, hash string, err error) {
	local, dom, found := strings.Cut(pseudo, "@")
	if !found || strings.Contains(dom, "@") {
		return "", "", fmt.Errorf("%w: %q does not contain exactly one '@'", ErrMalformed, pseudo)
	}

	if !strings.EqualFold(dom, domain) {
		return "", "", fmt.Errorf("%w: %q is not on domain %q", ErrMalformed, pseudo, domain)
	}

	alias, hash, found = strings.Cut(local, "+")
	if !found || strings.Contains(hash, "+") {
		return "", "", fmt.Errorf("%w: local part of %q does not contain exactly one '+'", ErrMalformed, pseudo)
	}

	if alias == "" || hash == "" {
		return "", "", fmt.Errorf("%w: %q has an empty alias or hash part", ErrMalformed, pseudo)
	}

	return alias, hash, nil
}
