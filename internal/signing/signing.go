// Package signing issues and checks HMAC-SHA256 signed links to archived
// found-item photos.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrExpired means the link's expiry is in the past.
	ErrExpired = errors.New("signed link expired")
	// ErrInvalidSignature means the signature or expiry does not match.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for inputs.
func (s *Signer) Sign(itemID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", itemID, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected.
func (s *Signer) Validate(itemID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(itemID, exp)
	// constant-time comparison
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Verify checks signature and expiry.
func (s *Signer) Verify(itemID, expires, signature string) error {
	if !s.Validate(itemID, expires, signature) {
		return ErrInvalidSignature
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

// SignedImagePath returns the path and query of a link to the archived photo
// of itemID that stays valid for ttl, plus its expiry.
func (s *Signer) SignedImagePath(itemID string, ttl time.Duration) (string, time.Time) {
	expires := s.now().Add(ttl).Truncate(time.Second)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", s.Sign(itemID, expires.Unix()))
	return "/api/items/found/" + url.PathEscape(itemID) + "/image?" + q.Encode(), expires
}
