// Package config parses tako's per-run config file (one file per mirrored
// image) and ingests the Ed25519 secret key used by the publish path.
//
// Grounded on the teacher's internal/config/config.go shape (a struct, a
// Load-style entry point, typed validation errors collected and returned
// together) adapted from environment-variable sourcing to the spec's
// line-based file grammar: tako's core four settings travel in a config
// file, not environment variables, so parsing here means reading lines
// rather than os.Getenv.
package config

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"github.com/takodist/tako/internal/codec"
	"github.com/takodist/tako/internal/errs"
	"github.com/takodist/tako/internal/version"
)

// Config is one parsed config file: where to fetch from, which key signs
// it, which versions are acceptable, and where to put them.
type Config struct {
	Origin      string
	PublicKey   ed25519.PublicKey
	Version     version.Version
	Destination string
	Restart     []string
}

// Parse reads a config file's bytes and returns the Config it describes, or
// the first structural error encountered (with its 1-based line number).
func Parse(raw []byte) (*Config, error) {
	var (
		origin, pubKeyStr, versionStr, destination string
		restart                                    []string
		haveOrigin, havePub, haveVersion, haveDest bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}

		idx := strings.IndexByte(text, '=')
		if idx < 0 {
			return nil, &errs.InvalidConfig{Line: line, Msg: "line must contain '='"}
		}
		key := text[:idx]
		value := text[idx+1:]

		switch key {
		case "Origin":
			origin, haveOrigin = value, true
		case "PublicKey":
			pubKeyStr, havePub = value, true
		case "Version":
			versionStr, haveVersion = value, true
		case "Destination":
			destination, haveDest = value, true
		case "Restart":
			for _, tok := range strings.Fields(value) {
				restart = append(restart, tok)
			}
		default:
			return nil, &errs.InvalidConfig{Line: line, Msg: fmt.Sprintf("unrecognized key %q", key)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var missing []string
	if !haveOrigin {
		missing = append(missing, "Origin")
	}
	if !havePub {
		missing = append(missing, "PublicKey")
	}
	if !haveVersion {
		missing = append(missing, "Version")
	}
	if !haveDest {
		missing = append(missing, "Destination")
	}
	if len(missing) > 0 {
		return nil, &errs.IncompleteConfig{Msg: "missing required key(s): " + strings.Join(missing, ", ")}
	}

	pubLine := findLine(raw, "PublicKey")
	pubKey, err := codec.DecodeBase64(pubKeyStr)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return nil, &errs.InvalidPublicKeyData{Line: pubLine}
	}

	v, err := version.Parse(versionStr)
	if err != nil {
		return nil, &errs.InvalidConfig{Line: findLine(raw, "Version"), Msg: "invalid version pattern: " + err.Error()}
	}

	if !strings.HasSuffix(origin, "/") {
		origin += "/"
	}

	return &Config{
		Origin:      origin,
		PublicKey:   ed25519.PublicKey(pubKey),
		Version:     v,
		Destination: destination,
		Restart:     restart,
	}, nil
}

// findLine returns the 1-based line number of the first line starting with
// "key=", used only to attach a line number to errors discovered after the
// main scan (base64 and version-pattern validation). Returns 0 if not found.
func findLine(raw []byte, key string) int {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	line := 0
	for scanner.Scan() {
		line++
		if strings.HasPrefix(scanner.Text(), key+"=") {
			return line
		}
	}
	return 0
}

const secretKeyPrefix = "SECRET+"

// maxSecretKeyFileLen is the prefix plus the base64 encoding of a 96-byte
// payload (128 characters), per the secret-key text format.
const maxSecretKeyFileLen = len(secretKeyPrefix) + 128

// SecretKey holds an ingested Ed25519 keypair: a 64-byte private key and the
// 32-byte public key it was published alongside.
type SecretKey struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// ParseSecretKey decodes text (as read verbatim from an environment
// variable or a flag value) into a SecretKey.
func ParseSecretKey(text string) (SecretKey, error) {
	if !strings.HasPrefix(text, secretKeyPrefix) {
		return SecretKey{}, errs.ErrInvalidSecretKeyPrefix
	}
	payload, err := codec.DecodeBase64(strings.TrimPrefix(text, secretKeyPrefix))
	if err != nil {
		return SecretKey{}, fmt.Errorf("%w: %v", errs.ErrInvalidSecretKeyData, err)
	}
	if len(payload) != ed25519.PrivateKeySize+ed25519.PublicKeySize {
		return SecretKey{}, fmt.Errorf("%w: payload is %d bytes, want %d", errs.ErrInvalidSecretKeyData, len(payload), ed25519.PrivateKeySize+ed25519.PublicKeySize)
	}
	priv := ed25519.PrivateKey(payload[:ed25519.PrivateKeySize])
	pub := ed25519.PublicKey(payload[ed25519.PrivateKeySize:])
	return SecretKey{Private: priv, Public: pub}, nil
}

// LoadSecretKeyFile reads a secret key from path, truncating its contents to
// the maximum valid length before decoding (a file may carry a trailing
// newline or other noise past the key itself).
func LoadSecretKeyFile(path string) (SecretKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SecretKey{}, fmt.Errorf("read secret key file: %w", err)
	}
	text := string(raw)
	if len(text) > maxSecretKeyFileLen {
		text = text[:maxSecretKeyFileLen]
	}
	return ParseSecretKey(text)
}
