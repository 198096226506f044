// Package joincode generates the short human-shareable codes players use
// to join a game, plus opaque player identifiers.
package joincode

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"

	"github.com/google/uuid"
)

const (
	// DefaultAlphabet is uppercase A-Z; codes are meant to be read aloud.
	DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// DefaultLength gives 26^4 ~ 456k codes.
	DefaultLength = 4
)

// Generator produces candidate join codes. Uniqueness is not enforced
// here: reservation happens at game creation under the store's unique
// index, so check-and-reserve is atomic from the caller's point of view.
type Generator struct {
	alphabet string
	length   int
}

// NewGenerator returns a Generator with the default alphabet and length.
func NewGenerator() *Generator {
	return New(DefaultAlphabet, DefaultLength)
}

// New returns a Generator over a custom alphabet and length. Tests use a
// tiny alphabet to force collisions.
func New(alphabet string, length int) *Generator {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{alphabet: alphabet, length: length}
}

// Code draws an independent uniform letter per position.
func (g *Generator) Code() string {
	code := make([]byte, g.length)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(g.alphabet))))
		if err != nil {
			// fallback to math/rand if crypto fails
			code[i] = g.alphabet[rand.Intn(len(g.alphabet))]
			continue
		}
		code[i] = g.alphabet[n.Int64()]
	}
	return string(code)
}

// Length reports the configured code length.
func (g *Generator) Length() int {
	return g.length
}

// NewPlayerID mints an opaque player identifier. Collision resistance is
// statistical only; this is not a security credential.
func NewPlayerID() string {
	return uuid.NewString()
}
