package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Cipher seals provider credentials at rest.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
	// Current reports whether ciphertext was sealed with the current key version.
	Current(ciphertext string) bool
}

var ErrMalformedCiphertext = errors.New("malformed ciphertext")

const hkdfInfo = "docrag/llm-key/aes-256-gcm"

// Envelope is a versioned AES-256-GCM cipher. Each master secret version
// derives its own data key with HKDF-SHA256; ciphertexts carry the version
// so older ones stay readable after the current version moves forward.
//
// Format: "v<version>:" + base64(nonce || sealed).
type Envelope struct {
	aeads   map[int]cipher.AEAD
	current int
}

// ParseMasterKeys parses "v1:<base64>,v2:<base64>" into version -> secret.
func ParseMasterKeys(spec string) (map[int][]byte, error) {
	keys := make(map[int][]byte)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, encoded, ok := strings.Cut(part, ":")
		if !ok || !strings.HasPrefix(label, "v") {
			return nil, fmt.Errorf("master key %q: want v<version>:<base64>", label)
		}
		version, err := strconv.Atoi(strings.TrimPrefix(label, "v"))
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("master key %q: invalid version", label)
		}
		secret, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("master key %s: %w", label, err)
		}
		if len(secret) < 16 {
			return nil, fmt.Errorf("master key %s: secret must be at least 16 bytes", label)
		}
		keys[version] = secret
	}
	if len(keys) == 0 {
		return nil, errors.New("no master keys configured")
	}
	return keys, nil
}

func NewEnvelope(secrets map[int][]byte, current int) (*Envelope, error) {
	if _, ok := secrets[current]; !ok {
		return nil, fmt.Errorf("current key version v%d is not configured", current)
	}

	e := &Envelope{aeads: make(map[int]cipher.AEAD, len(secrets)), current: current}
	for version, secret := range secrets {
		key := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
			return nil, fmt.Errorf("derive key v%d: %w", version, err)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("init cipher v%d: %w", version, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("init gcm v%d: %w", version, err)
		}
		e.aeads[version] = aead
	}
	return e, nil
}

// NewEnvelopeFromSpec builds an Envelope from the VAULT_MASTER_KEYS format.
func NewEnvelopeFromSpec(spec string, current int) (*Envelope, error) {
	secrets, err := ParseMasterKeys(spec)
	if err != nil {
		return nil, err
	}
	return NewEnvelope(secrets, current)
}

func (e *Envelope) Versions() []int {
	out := make([]int, 0, len(e.aeads))
	for v := range e.aeads {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func (e *Envelope) Encrypt(plaintext []byte) (string, error) {
	aead := e.aeads[e.current]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, versionAD(e.current))
	return fmt.Sprintf("v%d:%s", e.current, base64.StdEncoding.EncodeToString(sealed)), nil
}

func (e *Envelope) Decrypt(ciphertext string) ([]byte, error) {
	version, payload, err := splitVersion(ciphertext)
	if err != nil {
		return nil, err
	}
	aead, ok := e.aeads[version]
	if !ok {
		return nil, fmt.Errorf("key version v%d is not configured", version)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, ErrMalformedCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, versionAD(version))
	if err != nil {
		return nil, fmt.Errorf("decrypt v%d: %w", version, err)
	}
	return plaintext, nil
}

func (e *Envelope) Current(ciphertext string) bool {
	version, _, err := splitVersion(ciphertext)
	return err == nil && version == e.current
}

func splitVersion(ciphertext string) (int, string, error) {
	label, payload, ok := strings.Cut(ciphertext, ":")
	if !ok || !strings.HasPrefix(label, "v") {
		return 0, "", ErrMalformedCiphertext
	}
	version, err := strconv.Atoi(strings.TrimPrefix(label, "v"))
	if err != nil {
		return 0, "", ErrMalformedCiphertext
	}
	return version, payload, nil
}

// The version is bound as additional data so a payload cannot be relabeled.
func versionAD(version int) []byte {
	return []byte("v" + strconv.Itoa(version))
}
