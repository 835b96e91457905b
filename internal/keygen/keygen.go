// Package keygen generates the Ed25519 keypairs tako's `gen-key` command
// prints: a public key for config files and a secret key in the
// "SECRET+<base64>" text format internal/config ingests.
package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/takodist/tako/internal/codec"
)

// KeyPair holds both halves of a freshly generated signing key, rendered
// for display.
type KeyPair struct {
	PublicKeyBase64 string
	SecretKeyText   string
}

const secretKeyPrefix = "SECRET+"

// Generate creates a new Ed25519 keypair and renders it in the two text
// formats tako's config file and secret-key ingest expect.
func Generate() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	payload := make([]byte, 0, len(priv)+len(pub))
	payload = append(payload, priv...)
	payload = append(payload, pub...)
	return KeyPair{
		PublicKeyBase64: codec.EncodeBase64(pub),
		SecretKeyText:   secretKeyPrefix + codec.EncodeBase64(payload),
	}, nil
}
