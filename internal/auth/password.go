package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedHash = errors.New("malformed password hash")

// Params are the argon2id cost settings recorded in every encoded hash.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLen      uint32
	SaltLen     int
}

// DefaultParams suit small servers.
var DefaultParams = Params{
	Memory:      32 * 1024,
	Iterations:  2,
	Parallelism: 1,
	KeyLen:      32,
	SaltLen:     16,
}

type Hasher struct {
	params Params
}

func NewHasher(p Params) *Hasher { return &Hasher{params: p} }

func (h *Hasher) Hash(pw string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(pw), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks pw against an encoded hash using the parameters stored in it.
func (h *Hasher) Verify(encoded, pw string) bool {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false
	}
	other := argon2.IDKey([]byte(pw), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1
}

func HashPassword(pw string) (string, error) { return NewHasher(DefaultParams).Hash(pw) }

func VerifyPassword(encoded, pw string) bool { return NewHasher(DefaultParams).Verify(encoded, pw) }

// IsHash reports whether v looks like an encoded argon2id hash.
func IsHash(v string) bool {
	_, _, _, err := decode(v)
	return err == nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrMalformedHash
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	// argon2.IDKey panics on zero rounds or lanes and clamps memory below 8 KiB per lane.
	if p.Iterations < 1 || p.Parallelism < 1 || p.Memory < 8*uint32(p.Parallelism) {
		return Params{}, nil, nil, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}
	return p, salt, key, nil
}
