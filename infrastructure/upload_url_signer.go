package infrastructure

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitovidale/video-pipeline/domain"
)

var ErrInvalidUploadSignature = errors.New("invalid_upload_signature")

// HMACUploadURLSigner issues PUT URLs against the storage gateway. The gateway
// checks the signature over key, content type and expiry.
type HMACUploadURLSigner struct {
	base   string
	secret []byte
	ttl    time.Duration
	clock  domain.Clock
}

func NewHMACUploadURLSigner(base, secret string, ttl time.Duration, clock domain.Clock) *HMACUploadURLSigner {
	return &HMACUploadURLSigner{
		base:   strings.TrimRight(base, "/"),
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock,
	}
}

func (s *HMACUploadURLSigner) GenerateUploadURL(_ context.Context, storageKey, contentType string) (domain.UploadURL, error) {
	if strings.TrimSpace(storageKey) == "" {
		return domain.UploadURL{}, errors.New("storage key is required")
	}
	if len(s.secret) == 0 {
		return domain.UploadURL{}, errors.New("upload url secret not configured")
	}
	expires := s.clock.Now().Add(s.ttl).Truncate(time.Second)

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	if contentType != "" {
		q.Set("contentType", contentType)
	}
	q.Set("signature", s.sign(storageKey, contentType, expires.Unix()))

	return domain.UploadURL{
		URL:       s.base + "/" + storageKey + "?" + q.Encode(),
		Method:    http.MethodPut,
		ExpiresAt: expires,
	}, nil
}

// verify is the storage gateway's side of the contract: it accepts exactly the
// URLs GenerateUploadURL hands out until they expire.
func (s *HMACUploadURLSigner) verify(storageKey, contentType string, expiresUnix int64, signature string) error {
	if s.clock.Now().Unix() > expiresUnix {
		return ErrInvalidUploadSignature
	}
	expected := s.sign(storageKey, contentType, expiresUnix)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidUploadSignature
	}
	return nil
}

func (s *HMACUploadURLSigner) sign(storageKey, contentType string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(http.MethodPut + "\n" + storageKey + "\n" + contentType + "\n" + strconv.FormatInt(expiresUnix, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
