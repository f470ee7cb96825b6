package verify

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

var (
	// ErrNoKey is returned when a JWTConfig names neither an HMAC secret nor an RSA key.
	ErrNoKey = errors.New("verify: jwt needs a secret or a public key")
	// ErrTooManyKeys is returned when a JWTConfig names both.
	ErrTooManyKeys = errors.New("verify: jwt secret and public key are mutually exclusive")

	errTokenMissing   = errors.New("bearer token missing")
	errDigestMismatch = errors.New("body digest does not match token")
)

// BodyClaims binds a token to a request body.
type BodyClaims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// JWTConfig configures bearer token verification. Exactly one of Secret
// (HS256) or PublicKeyPEM (RS256) must be set.
type JWTConfig struct {
	Secret       []byte
	PublicKeyPEM []byte
	Logger       *logrus.Entry
}

// JWTVerifier validates a bearer token whose body_sha256 claim matches the raw body.
type JWTVerifier struct {
	method jwt.SigningMethod
	key    any
	logger *logrus.Entry
}

// NewJWTVerifier builds a verifier from cfg.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("component", "jwt_verifier")
	}

	switch {
	case len(cfg.Secret) > 0 && len(cfg.PublicKeyPEM) > 0:
		return nil, ErrTooManyKeys
	case len(cfg.Secret) > 0:
		return &JWTVerifier{method: jwt.SigningMethodHS256, key: cfg.Secret, logger: logger}, nil
	case len(cfg.PublicKeyPEM) > 0:
		pub, err := ParsePublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		return &JWTVerifier{method: jwt.SigningMethodRS256, key: pub, logger: logger}, nil
	default:
		return nil, ErrNoKey
	}
}

// JWT returns a verify hook backed by a new JWTVerifier.
func JWT(cfg JWTConfig) (bodyparser.VerifyFunc, error) {
	v, err := NewJWTVerifier(cfg)
	if err != nil {
		return nil, err
	}
	return v.Verify, nil
}

// ParsePublicKey parses a PEM encoded PKIX RSA public key.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA key")
	}

	return rsaPub, nil
}

// BodyDigest returns the hex SHA-256 digest expected in the body_sha256 claim.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Verify implements bodyparser.VerifyFunc.
func (v *JWTVerifier) Verify(_ http.ResponseWriter, r *http.Request, raw []byte, _ string) error {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return bodyparser.NewHookError(http.StatusUnauthorized, errTokenMissing)
	}

	claims := &BodyClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		v.logger.WithError(err).Debug("Bearer token rejected")
		return bodyparser.NewHookError(http.StatusUnauthorized, fmt.Errorf("invalid token: %w", err))
	}

	want := BodyDigest(raw)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(claims.BodySHA256)), []byte(want)) != 1 {
		v.logger.WithFields(logrus.Fields{
			"subject": claims.Subject,
			"size":    len(raw),
		}).Warn("Body digest mismatch")
		return bodyparser.NewHookError(http.StatusForbidden, errDigestMismatch)
	}

	return nil
}
