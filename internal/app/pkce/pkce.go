// Package pkce generates verifier and challenge pairs for the OAuth 2.0 PKCE extension (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/jp-673/isktreon/internal/app"
)

// Number of random bytes for a verifier. Encodes to 43 characters.
const verifierBytes = 32

// MethodS256 is the only supported challenge method.
const MethodS256 = "S256"

// Pair is a code verifier together with it's derived challenge.
type Pair struct {
	Verifier  string
	Challenge string
}

// Generator creates new verifier/challenge pairs.
// The zero value uses [crypto/rand.Reader] as entropy source.
type Generator struct {
	// Source of randomness. Must be cryptographically secure.
	Random io.Reader
}

// Generate returns a new pair.
// It returns [app.ErrEntropySourceUnavailable] when the random source can not be read.
func (g Generator) Generate() (Pair, error) {
	verifier, err := g.RandomString(verifierBytes)
	if err != nil {
		return Pair{}, err
	}
	p := Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
	}
	return p, nil
}

// RandomString returns a base64url encoded string without padding from n random bytes.
func (g Generator) RandomString(n int) (string, error) {
	r := g.Random
	if r == nil {
		r = rand.Reader
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("pkce: read %d random bytes: %w: %w", n, app.ErrEntropySourceUnavailable, err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Challenge returns the S256 challenge for a verifier.
func Challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
