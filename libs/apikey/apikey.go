package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Keys look like ex_<env>_<prefix>.<secret>. Only the prefix (lookup) and the
// SHA-256 of prefix+secret are stored.
const keyTag = "ex"

var ErrInvalidKey = errors.New("invalid api key")

type Key struct {
	Full   string
	Prefix string
	Hash   string
}

func Generate(env string) (Key, error) {
	prefix, err := generatePrefix()
	if err != nil {
		return Key{}, err
	}
	secret, err := generateSecret()
	if err != nil {
		return Key{}, err
	}
	return Compose(env, prefix, secret)
}

// Compose builds a key from known parts. Seeding uses it to hand out stable
// development keys.
func Compose(env, prefix, secret string) (Key, error) {
	env = strings.TrimSpace(env)
	if env == "" || prefix == "" || secret == "" ||
		strings.ContainsAny(env, "_.") || strings.ContainsAny(prefix, "_.") {
		return Key{}, ErrInvalidKey
	}
	return Key{
		Full:   fmt.Sprintf("%s_%s_%s.%s", keyTag, env, prefix, secret),
		Prefix: prefix,
		Hash:   Hash(prefix, secret),
	}, nil
}

func Parse(key string) (env string, prefix string, secret string, err error) {
	head, secret, ok := strings.Cut(strings.TrimSpace(key), ".")
	if !ok {
		return "", "", "", ErrInvalidKey
	}

	headParts := strings.SplitN(head, "_", 3)
	if len(headParts) != 3 || headParts[0] != keyTag {
		return "", "", "", ErrInvalidKey
	}
	env = headParts[1]
	prefix = headParts[2]
	if env == "" || prefix == "" || secret == "" {
		return "", "", "", ErrInvalidKey
	}
	return env, prefix, secret, nil
}

func Hash(prefix, secret string) string {
	sum := sha256.Sum256([]byte(prefix + "." + secret))
	return hex.EncodeToString(sum[:])
}

// Verify checks key against a stored hash.
func Verify(key string, storedHash string) error {
	_, prefix, secret, err := Parse(key)
	if err != nil {
		return err
	}
	hash := Hash(prefix, secret)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(storedHash))) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// PrefixOf returns the lookup prefix of a well-formed key.
func PrefixOf(key string) (string, error) {
	_, prefix, _, err := Parse(key)
	return prefix, err
}

func generatePrefix() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(buf)), nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
