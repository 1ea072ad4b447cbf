package auth

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/agentpay/tagbook/internal/model"
	"github.com/agentpay/tagbook/internal/store/sqlite"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if len(secret) < 16 {
		t.Fatalf("secret too short: %d chars", len(secret))
	}

	h1, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected distinct hashes for the same secret (fresh salt)")
	}
	if !VerifySecret(secret, h1) || !VerifySecret(secret, h2) {
		t.Fatalf("expected both hashes to verify the original secret")
	}

	other, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if VerifySecret(other, h1) {
		t.Fatalf("expected different secret to fail verification")
	}
}

func TestVerifyMutatedSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	for _, pos := range []int{0, len(secret) / 2, len(secret) - 1} {
		mutated := []byte(secret)
		if mutated[pos] == 'A' {
			mutated[pos] = 'B'
		} else {
			mutated[pos] = 'A'
		}
		if VerifySecret(string(mutated), hash) {
			t.Fatalf("mutation at %d should not verify", pos)
		}
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	secret := "some-presented-secret"
	malformed := []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=65536,t=1,p=4$$",
		"$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$c2FsdA",
	}
	for _, h := range malformed {
		if VerifySecret(secret, h) {
			t.Fatalf("malformed hash %q should not verify", h)
		}
	}
}

func TestResolve(t *testing.T) {
	st, err := sqlite.Open("file:auth_resolve_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	svc := NewService(st)

	secrets := make(map[string]string)
	for i := 0; i < 3; i++ {
		username := fmt.Sprintf("agent_%d", i)
		secret, err := GenerateSecret()
		if err != nil {
			t.Fatalf("generate secret: %v", err)
		}
		hash, err := HashSecret(secret)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		tag := model.Tag{Username: username, CredentialHash: hash}
		if err := st.CreateTag(context.Background(), &tag); err != nil {
			t.Fatalf("create tag: %v", err)
		}
		secrets[username] = secret
	}

	for username, secret := range secrets {
		tag, err := svc.Resolve(context.Background(), secret)
		if err != nil {
			t.Fatalf("resolve %s: %v", username, err)
		}
		if tag.Username != username {
			t.Fatalf("resolved wrong tag: got %s, want %s", tag.Username, username)
		}
	}

	// Another tag's secret resolves to that tag, never to this one.
	tag, err := svc.Resolve(context.Background(), secrets["agent_1"])
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tag.Username != "agent_1" {
		t.Fatalf("resolved wrong tag: %s", tag.Username)
	}

	rejects := []string{
		"",
		"short",
		strings.Repeat("x", 15),
		strings.Repeat("x", 43),
	}
	for _, secret := range rejects {
		if _, err := svc.Resolve(context.Background(), secret); err != ErrNoMatch {
			t.Fatalf("expected ErrNoMatch for %q, got %v", secret, err)
		}
	}
}
