package security

import (
	"crypto"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretLen is the shortest HS256 secret accepted for signing or verification.
const MinHMACSecretLen = 32

// ErrUnknownKey is returned by Keyring.Lookup when no key has the requested kid.
var ErrUnknownKey = errors.New("unknown signing key")

// SigningKey is one versioned JWT key. Verify-only keys have a nil sign key.
type SigningKey struct {
	ID        string
	Method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// CanSign reports whether the key holds signing material.
func (k SigningKey) CanSign() bool { return k.signKey != nil }

// NewHMACKey returns an HS256 key identified by kid.
func NewHMACKey(kid, secret string) (SigningKey, error) {
	if strings.TrimSpace(kid) == "" {
		return SigningKey{}, fmt.Errorf("%w: empty kid", ErrInvalidKey)
	}
	if len(secret) < MinHMACSecretLen {
		return SigningKey{}, fmt.Errorf("%w: HS256 secret for kid %q shorter than %d bytes", ErrInvalidKey, kid, MinHMACSecretLen)
	}
	b := []byte(secret)
	return SigningKey{ID: kid, Method: jwt.SigningMethodHS256, signKey: b, verifyKey: b}, nil
}

// NewAsymmetricKey returns an RS256 or ES256 key identified by kid. signer may be nil for a verify-only key.
func NewAsymmetricKey(kid string, signer crypto.Signer, pub crypto.PublicKey) (SigningKey, error) {
	if strings.TrimSpace(kid) == "" {
		return SigningKey{}, fmt.Errorf("%w: empty kid", ErrInvalidKey)
	}
	var method jwt.SigningMethod
	switch KeyAlg(pub) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return SigningKey{}, ErrInvalidKey
	}
	k := SigningKey{ID: kid, Method: method, verifyKey: pub}
	if signer != nil {
		if KeyAlg(signer.Public()) != method.Alg() {
			return SigningKey{}, fmt.Errorf("%w: private and public key types differ", ErrInvalidKey)
		}
		k.signKey = signer
	}
	return k, nil
}

// Keyring holds the active signing key and any retired keys that are still accepted for verification.
// It is immutable after construction and safe for concurrent use.
type Keyring struct {
	active string
	keys   map[string]SigningKey
}

// NewKeyring returns a keyring that signs with active and verifies tokens from active or any of previous.
func NewKeyring(active SigningKey, previous ...SigningKey) (*Keyring, error) {
	if !active.CanSign() {
		return nil, fmt.Errorf("%w: active key %q cannot sign", ErrInvalidKey, active.ID)
	}
	keys := map[string]SigningKey{active.ID: active}
	for _, k := range previous {
		if _, dup := keys[k.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate kid %q", ErrInvalidKey, k.ID)
		}
		keys[k.ID] = k
	}
	return &Keyring{active: active.ID, keys: keys}, nil
}

// Active returns the key used for signing.
func (r *Keyring) Active() SigningKey { return r.keys[r.active] }

// Lookup returns the key with the given kid.
func (r *Keyring) Lookup(kid string) (SigningKey, error) {
	k, ok := r.keys[kid]
	if !ok {
		return SigningKey{}, ErrUnknownKey
	}
	return k, nil
}

// IDs returns every kid in the ring, sorted.
func (r *Keyring) IDs() []string {
	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KeyringOptions is the raw key material read from configuration.
type KeyringOptions struct {
	KeyID           string
	Secret          string
	PrivateKey      string
	PublicKey       string
	PreviousSecrets map[string]string
}

// LoadKeyring builds a Keyring from configuration. A PEM key pair takes precedence over the HS256 secret;
// previous secrets are added as verify-only HS256 keys.
func LoadKeyring(opts KeyringOptions) (*Keyring, error) {
	kid := opts.KeyID
	if kid == "" {
		kid = "v1"
	}
	var (
		active SigningKey
		err    error
	)
	if strings.TrimSpace(opts.PrivateKey) != "" {
		signer, perr := ParsePrivateKey(opts.PrivateKey)
		if perr != nil {
			return nil, fmt.Errorf("parse JWT private key: %w", perr)
		}
		pub, perr := ParsePublicKey(opts.PublicKey)
		if perr != nil {
			return nil, fmt.Errorf("parse JWT public key: %w", perr)
		}
		active, err = NewAsymmetricKey(kid, signer, pub)
	} else {
		active, err = NewHMACKey(kid, opts.Secret)
	}
	if err != nil {
		return nil, err
	}
	previous := make([]SigningKey, 0, len(opts.PreviousSecrets))
	for pkid, secret := range opts.PreviousSecrets {
		k, err := NewHMACKey(pkid, secret)
		if err != nil {
			return nil, err
		}
		k.signKey = nil
		previous = append(previous, k)
	}
	return NewKeyring(active, previous...)
}
