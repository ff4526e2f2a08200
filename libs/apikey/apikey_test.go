package apikey

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateParseVerify(t *testing.T) {
	key, err := Generate("dev")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(key.Full, "ex_dev_") {
		t.Fatalf("unexpected key format %q", key.Full)
	}

	env, prefix, secret, err := Parse(key.Full)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env != "dev" {
		t.Fatalf("expected env dev, got %s", env)
	}
	if prefix != key.Prefix {
		t.Fatalf("expected prefix %s, got %s", key.Prefix, prefix)
	}
	if secret == "" {
		t.Fatalf("expected secret")
	}

	if err := Verify(key.Full, key.Hash); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify(key.Full, strings.ToUpper(key.Hash)); err != nil {
		t.Fatalf("verify should ignore hash case: %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	key, _ := Generate("dev")
	other, _ := Generate("dev")
	if err := Verify(key.Full, other.Hash); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "key-123", "ex_dev.secret", "ck_dev_abc.secret", "ex_dev_abc."} {
		if _, _, _, err := Parse(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected invalid key for %q", key)
		}
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	a, err := Compose("test", "alice", "s3cret")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	b, _ := Compose("test", "alice", "s3cret")
	if a != b || a.Full != "ex_test_alice.s3cret" {
		t.Fatalf("unexpected composed key %+v", a)
	}
	if _, err := Compose("te_st", "alice", "s3cret"); err == nil {
		t.Fatalf("expected env with separator to be rejected")
	}
	if prefix, _ := PrefixOf(a.Full); prefix != "alice" {
		t.Fatalf("unexpected prefix %q", prefix)
	}
}
