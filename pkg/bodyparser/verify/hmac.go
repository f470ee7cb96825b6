package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

const (
	// DefaultSignatureHeader carries the body signature as "sha256=<hex>".
	DefaultSignatureHeader = "X-Body-Signature"

	signaturePrefix = "sha256="

	// HKDF context for signature keys
	hmacSalt = "bodyparser-signature-v1"
	hmacInfo = "body-hmac-key"

	// MinSecretSize is the minimum accepted secret length in bytes
	MinSecretSize = 16

	hmacKeySize = 32
)

var (
	// ErrSecretTooShort is returned when the configured secret is shorter than MinSecretSize.
	ErrSecretTooShort = fmt.Errorf("verify: secret must be at least %d bytes", MinSecretSize)

	errSignatureMissing = errors.New("body signature missing")
	errSignatureInvalid = errors.New("body signature invalid")
)

// HMACConfig configures body signature verification.
type HMACConfig struct {
	Secret []byte
	Header string
	Logger *logrus.Entry
}

// HMACVerifier checks an HMAC-SHA256 signature of the raw request body.
type HMACVerifier struct {
	key    []byte
	header string
	logger *logrus.Entry
}

// NewHMACVerifier derives the signing key from cfg.Secret.
func NewHMACVerifier(cfg HMACConfig) (*HMACVerifier, error) {
	if len(cfg.Secret) < MinSecretSize {
		return nil, ErrSecretTooShort
	}

	key, err := deriveHMACKey(cfg.Secret)
	if err != nil {
		return nil, err
	}

	header := cfg.Header
	if header == "" {
		header = DefaultSignatureHeader
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("component", "hmac_verifier")
	}

	return &HMACVerifier{key: key, header: header, logger: logger}, nil
}

// HMAC returns a verify hook backed by a new HMACVerifier.
func HMAC(cfg HMACConfig) (bodyparser.VerifyFunc, error) {
	v, err := NewHMACVerifier(cfg)
	if err != nil {
		return nil, err
	}
	return v.Verify, nil
}

func deriveHMACKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, []byte(hmacSalt), []byte(hmacInfo))
	key := make([]byte, hmacKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive HMAC key: %w", err)
	}
	return key, nil
}

// Header returns the request header the verifier reads.
func (v *HMACVerifier) Header() string {
	return v.header
}

// Sign returns the header value for body.
func (v *HMACVerifier) Sign(body []byte) string {
	return signaturePrefix + hex.EncodeToString(v.sum(body))
}

func (v *HMACVerifier) sum(body []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write(body)
	return mac.Sum(nil)
}

// Verify implements bodyparser.VerifyFunc.
func (v *HMACVerifier) Verify(_ http.ResponseWriter, r *http.Request, raw []byte, _ string) error {
	value := strings.TrimSpace(r.Header.Get(v.header))
	if value == "" {
		v.logger.WithField("header", v.header).Debug("Body signature missing")
		return bodyparser.NewHookError(http.StatusUnauthorized, errSignatureMissing)
	}

	if len(value) < len(signaturePrefix) || !strings.EqualFold(value[:len(signaturePrefix)], signaturePrefix) {
		return bodyparser.NewHookError(http.StatusUnauthorized, errSignatureMissing)
	}

	got, err := hex.DecodeString(value[len(signaturePrefix):])
	if err != nil {
		v.logger.WithError(err).Debug("Body signature is not hex")
		return bodyparser.NewHookError(http.StatusForbidden, errSignatureInvalid)
	}

	if !hmac.Equal(got, v.sum(raw)) {
		v.logger.WithField("size", len(raw)).Warn("Body signature mismatch")
		return bodyparser.NewHookError(http.StatusForbidden, errSignatureInvalid)
	}

	return nil
}
