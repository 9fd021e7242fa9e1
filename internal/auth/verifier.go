package auth

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/camera-control/ccs/internal/config"
)

// Signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// HS256 shared secret
	SecretKey string

	// RS256 public key in PEM form
	PublicKeyPEM string

	// Optional registered claim checks
	Issuer   string
	Audience string
}

// Verifier checks bearer tokens signed with HS256 or RS256.
type Verifier struct {
	config    VerifierConfig
	algorithm string
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier creates a verifier. A PEM public key selects RS256, otherwise
// the shared secret selects HS256.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: cfg}

	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.publicKey = key
		v.algorithm = AlgRS256
	case cfg.SecretKey != "":
		v.algorithm = AlgHS256
	default:
		return nil, fmt.Errorf("either a secret or a public key is required")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{v.algorithm}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// NewVerifierFromConfig builds a verifier from the web auth settings,
// reading the public key file when one is configured.
func NewVerifierFromConfig(cfg config.AuthConfig) (*Verifier, error) {
	vc := VerifierConfig{
		SecretKey: cfg.Secret,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
	}
	if cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		vc.PublicKeyPEM = string(data)
	}
	return NewVerifier(vc)
}

// Algorithm returns the signing algorithm tokens must use.
func (v *Verifier) Algorithm() string {
	return v.algorithm
}

// VerifyToken verifies a JWT token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if v.algorithm == AlgRS256 {
			return v.publicKey, nil
		}
		return []byte(v.config.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return extractClaims(claims)
}

// extractClaims pulls the subject and scopes out of the token claims.
// Scopes come from a "scopes" array or a space separated "scope" string.
func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	var scopes []string
	switch {
	case claims["scopes"] != nil:
		scopes, err = stringSlice(claims["scopes"])
		if err != nil {
			return nil, fmt.Errorf("invalid 'scopes' claim: %w", err)
		}
	case claims["scope"] != nil:
		s, ok := claims["scope"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid 'scope' claim: not a string")
		}
		scopes = strings.Fields(s)
	}

	for _, scope := range scopes {
		if scope != ScopeRead && scope != ScopeControl {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("token carries no scopes")
	}

	return &Claims{Subject: sub, Scopes: scopes}, nil
}

func stringSlice(value interface{}) ([]string, error) {
	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("not a string")
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("not a string array")
	}
}
