package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerSignature = "X-Request-Signature"
	headerTimestamp = "X-Request-Timestamp"
	headerKeyID     = "X-Request-Key-Id"

	// DefaultKeyID is used when a request names no key.
	DefaultKeyID = "default"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrUnknownKey       = errors.New("unknown signing key")
)

// Verifier checks HMAC-SHA256 over timestamp||body. Keys maps key ids to
// secrets so callers can rotate; Secret alone registers DefaultKeyID. With no
// secret configured every request passes.
type Verifier struct {
	Secret  string
	Keys    map[string]string
	MaxSkew time.Duration
	Now     func() time.Time
	// MaxBody caps the bytes read for verification; zero means 1 MiB.
	MaxBody int64

	SignatureHeader string
	TimestampHeader string
	KeyIDHeader     string
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Enabled reports whether any secret is configured.
func (v *Verifier) Enabled() bool {
	return v.Secret != "" || len(v.Keys) > 0
}

func (v *Verifier) verify(r *http.Request) error {
	if !v.Enabled() {
		return nil
	}

	secret, err := v.secretFor(r.Header.Get(orHeader(v.KeyIDHeader, headerKeyID)))
	if err != nil {
		return err
	}

	sig := r.Header.Get(orHeader(v.SignatureHeader, headerSignature))
	if sig == "" {
		return ErrMissingSignature
	}
	tsHeader := r.Header.Get(orHeader(v.TimestampHeader, headerTimestamp))
	if tsHeader == "" {
		return ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return ErrStaleTimestamp
	}

	bodyBytes, err := v.readBody(r)
	if err != nil {
		return err
	}

	expected := ComputeSignature(secret, tsHeader, bodyBytes)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) secretFor(keyID string) (string, error) {
	if keyID == "" {
		keyID = DefaultKeyID
	}
	if s, ok := v.Keys[keyID]; ok && s != "" {
		return s, nil
	}
	if keyID == DefaultKeyID && v.Secret != "" {
		return v.Secret, nil
	}
	return "", ErrUnknownKey
}

// ComputeSignature is the lowercase hex HMAC-SHA256 of timestamp then body.
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

func (v *Verifier) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	limit := v.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errors.New("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func orHeader(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
