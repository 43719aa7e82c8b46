// Package id generates prefixed identifiers for catalog entities.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// AudioPrefix prefixes every audio record id.
const AudioPrefix = "aud"

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "aud-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// NewAudioID returns a fresh audio record id.
func NewAudioID() (string, error) {
	return Generate(AudioPrefix)
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}
