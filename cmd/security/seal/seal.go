package seal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	prefix  = "$lexseal$"
	version = 1
)

var b64 = base64.RawStdEncoding

// Sealer seals and opens secrets with a fixed passphrase.
type Sealer struct {
	passphrase []byte
	params     Params
}

// New returns a Sealer for passphrase using params.
func New(passphrase string, params Params) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Sealer{passphrase: []byte(passphrase), params: params}, nil
}

// Seal encrypts plaintext and returns the encoded sealed string.
// The Argon2id parameters are bound to the ciphertext as associated data.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, s.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("seal: salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.derive(salt, s.params))
	if err != nil {
		return "", fmt.Errorf("seal: aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: nonce: %w", err)
	}

	header := encodeHeader(s.params)
	ct := aead.Seal(nil, nonce, plaintext, []byte(header))

	return header + "$" + b64.EncodeToString(salt) + "$" +
		b64.EncodeToString(nonce) + "$" + b64.EncodeToString(ct), nil
}

// Open decrypts a string produced by Seal.
// Any authentication failure (wrong passphrase, tampering) returns ErrOpenFailed.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	p, salt, nonce, ct, header, err := decode(sealed)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(s.derive(salt, p))
	if err != nil {
		return nil, fmt.Errorf("seal: aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidFormat
	}

	pt, err := aead.Open(nil, nonce, ct, []byte(header))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}

// IsSealed reports whether s looks like an encoded sealed string.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, prefix)
}

func (s *Sealer) derive(salt []byte, p Params) []byte {
	return argon2.IDKey(s.passphrase, salt, p.Iterations, p.MemoryKiB, p.Parallelism, chacha20poly1305.KeySize)
}

func encodeHeader(p Params) string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d", prefix, version, p.MemoryKiB, p.Iterations, p.Parallelism)
}

func decode(sealed string) (p Params, salt, nonce, ct []byte, header string, err error) {
	if !IsSealed(sealed) {
		return Params{}, nil, nil, nil, "", ErrInvalidFormat
	}

	// "", "lexseal", "v=1", "m=..,t=..,p=..", salt, nonce, ct
	parts := strings.Split(sealed, "$")
	if len(parts) != 7 {
		return Params{}, nil, nil, nil, "", ErrInvalidFormat
	}

	if parts[2] != "v="+strconv.Itoa(version) {
		return Params{}, nil, nil, nil, "", ErrUnsupported
	}

	p, err = parseParams(parts[3])
	if err != nil {
		return Params{}, nil, nil, nil, "", err
	}

	salt, err = b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, nil, "", ErrInvalidFormat
	}
	p.SaltLength = uint32(len(salt))
	if err := p.validate(); err != nil {
		return Params{}, nil, nil, nil, "", err
	}

	nonce, err = b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, nil, "", ErrInvalidFormat
	}
	ct, err = b64.DecodeString(parts[6])
	if err != nil || len(ct) == 0 {
		return Params{}, nil, nil, nil, "", ErrInvalidFormat
	}

	header = strings.Join(parts[:4], "$")
	return p, salt, nonce, ct, header, nil
}

func parseParams(s string) (Params, error) {
	var p Params
	seen := 0
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Params{}, ErrInvalidFormat
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Params{}, ErrInvalidFormat
		}
		switch k {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return Params{}, ErrParamsTooHigh
			}
			p.Parallelism = uint8(n)
		default:
			return Params{}, ErrInvalidFormat
		}
		seen++
	}
	if seen != 3 {
		return Params{}, ErrInvalidFormat
	}
	return p, nil
}
