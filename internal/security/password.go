package security

import (
	"fmt"
	"strings"
)

// Passwords hashes new passwords with the preferred scheme and verifies stored hashes of
// either scheme, so PASSWORD_HASHER can change without invalidating existing accounts.
type Passwords struct {
	preferred PasswordHasher
	bcrypt    *Hasher
	argon2    *Argon2Hasher
	dummy     string
}

// NewPasswords returns Passwords hashing with kind ("bcrypt" or "argon2id"; empty means bcrypt).
func NewPasswords(kind string, bcryptCost int) (*Passwords, error) {
	p := &Passwords{
		bcrypt: NewHasher(bcryptCost),
		argon2: NewArgon2Hasher(DefaultArgon2Params),
	}
	switch kind {
	case "", "bcrypt":
		p.preferred = p.bcrypt
	case "argon2id":
		p.preferred = p.argon2
	default:
		return nil, fmt.Errorf("unknown password hasher %q", kind)
	}
	dummy, err := p.preferred.Hash([]byte("registry-dummy-password"))
	if err != nil {
		return nil, err
	}
	p.dummy = dummy
	return p, nil
}

// Hash hashes password with the preferred scheme.
func (p *Passwords) Hash(password []byte) (string, error) {
	return p.preferred.Hash(password)
}

// Compare verifies password against hash, detecting the scheme from the hash prefix.
func (p *Passwords) Compare(hash string, password []byte) error {
	if strings.HasPrefix(hash, argon2Prefix) {
		return p.argon2.Compare(hash, password)
	}
	return p.bcrypt.Compare(hash, password)
}

// CompareDummy performs a comparison against a fixed hash and discards the result.
// Used when no account exists so that response timing does not reveal it.
func (p *Passwords) CompareDummy(password []byte) {
	_ = p.Compare(p.dummy, password)
}
