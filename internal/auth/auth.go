package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/agentpay/tagbook/internal/model"
	"github.com/agentpay/tagbook/internal/store"

	"golang.org/x/crypto/argon2"
)

// ErrNoMatch is returned when a presented secret resolves to no tag. Callers
// must not distinguish why resolution failed.
var ErrNoMatch = errors.New("no matching credential")

const (
	// minSecretLen is a cheap pre-filter, not a security boundary. Issued
	// secrets are 43 characters, so anything shorter cannot match.
	minSecretLen = 16
	secretBytes  = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

type Service struct {
	store store.TagStore
}

func NewService(store store.TagStore) *Service {
	return &Service{store: store}
}

// GenerateSecret returns a fresh high-entropy secret. It is issued exactly
// once at registration and never persisted in plaintext.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret derives an argon2id hash with a fresh random salt, encoded in
// PHC format. Two hashes of the same secret differ, but both verify.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifySecret reports whether secret produced encoded. Malformed input
// yields false, never an error: callers must not mistake a decode failure
// for a successful authentication.
func VerifySecret(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Resolve finds the tag whose stored credential hash verifies against the
// presented secret. Secrets are salted per tag and never stored or indexed,
// so there is no direct lookup: every credential is scanned and verified
// until one matches. Resolution is read-only and safe for concurrent use.
func (s *Service) Resolve(ctx context.Context, secret string) (model.Tag, error) {
	if len(secret) < minSecretLen {
		return model.Tag{}, ErrNoMatch
	}
	creds, err := s.store.ListCredentials(ctx)
	if err != nil {
		return model.Tag{}, err
	}
	for _, c := range creds {
		if VerifySecret(secret, c.Hash) {
			return s.store.GetTagByID(ctx, c.TagID)
		}
	}
	return model.Tag{}, ErrNoMatch
}
