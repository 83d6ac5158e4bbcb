package auth

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	hashKeyInfo  = "crate session cookie hash v1"
	blockKeyInfo = "crate session cookie block v1"
)

// CookieCodec authenticates, encrypts and timestamps the session ID carried in
// the cookie. The first secret encodes; every secret is tried when decoding so
// a rotated secret keeps old cookies valid until they expire.
type CookieCodec struct {
	name   string
	codecs []securecookie.Codec
}

// NewCookieCodec derives a hash key and a block key from each secret with
// HKDF-SHA256. Cookies older than maxAge are rejected.
func NewCookieCodec(name string, maxAge time.Duration, secrets ...[]byte) (*CookieCodec, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("session secret cannot be empty")
	}

	codecs := make([]securecookie.Codec, 0, len(secrets))
	for _, secret := range secrets {
		if len(secret) == 0 {
			return nil, fmt.Errorf("session secret cannot be empty")
		}
		hashKey, err := deriveKey(secret, hashKeyInfo, 64)
		if err != nil {
			return nil, err
		}
		blockKey, err := deriveKey(secret, blockKeyInfo, 32)
		if err != nil {
			return nil, err
		}

		sc := securecookie.New(hashKey, blockKey)
		sc.MaxAge(int(maxAge.Seconds()))
		sc.SetSerializer(securecookie.JSONEncoder{})
		codecs = append(codecs, sc)
	}

	return &CookieCodec{name: name, codecs: codecs}, nil
}

func deriveKey(secret []byte, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	return key, nil
}

// Encode returns the cookie value for sessionID.
func (c *CookieCodec) Encode(sessionID string) (string, error) {
	return securecookie.EncodeMulti(c.name, sessionID, c.codecs...)
}

// Decode returns the session ID when the value is authentic and not expired.
func (c *CookieCodec) Decode(value string) (string, bool) {
	var sessionID string
	if err := securecookie.DecodeMulti(c.name, value, &sessionID, c.codecs...); err != nil {
		return "", false
	}
	return sessionID, sessionID != ""
}
