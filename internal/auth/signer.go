package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultSignedPath is the request path covered by signed tokens.
const DefaultSignedPath = "/graphql"

// Credentials holds the API key and private key for signed tokens.
type Credentials struct {
	KeyID      string          // API key ID issued by the server operator
	PrivateKey *rsa.PrivateKey // RSA private key for signing
	Path       string          // Signed path, DefaultSignedPath if empty

	now func() time.Time
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, ErrMissingKey
	}
	if privateKeyPath == "" {
		return nil, ErrMissingPath
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// Token returns a fresh signed token: keyID.timestampMs.signature.
// It satisfies TokenProvider.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	timestampMs := now().UnixMilli()

	signature, err := c.generateSignature(timestampMs, "GET", c.path())
	if err != nil {
		return "", err
	}

	return c.KeyID + "." + strconv.FormatInt(timestampMs, 10) + "." + signature, nil
}

func (c *Credentials) path() string {
	if c.Path == "" {
		return DefaultSignedPath
	}
	return c.Path
}

// generateSignature creates an RSA-PSS signature.
// Message format: timestamp_ms + method + path
func (c *Credentials) generateSignature(timestampMs int64, method, path string) (string, error) {
	message := fmt.Sprintf("%d%s%s", timestampMs, method, path)
	hashed := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(signature), nil
}
