package gateway

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidKey is returned when a configured key cannot be parsed.
var ErrInvalidKey = errors.New("gateway: invalid key material")

// SignContent builds the canonical string covered by request and notification
// signatures: "<METHOD> <path>\n<clientId>.<requestTime>.<body>".
func SignContent(method, path, clientID, requestTime string, body []byte) string {
	return fmt.Sprintf("%s %s\n%s.%s.%s", strings.ToUpper(method), path, clientID, requestTime, body)
}

// Sign produces the URL-encoded base64 RSA-SHA256 signature for the canonical
// content, in the form the gateway expects in the `signature` header.
func Sign(priv *rsa.PrivateKey, content string) (string, error) {
	if priv == nil {
		return "", ErrInvalidKey
	}
	digest := sha256.Sum256([]byte(content))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(sig)
	return "algorithm=RSA256,keyVersion=1,signature=" + url.QueryEscape(encoded), nil
}

// VerifySignature checks an RSA-SHA256 signature header against the canonical
// content. The header may be either the bare URL-encoded base64 value or the
// full "algorithm=...,keyVersion=...,signature=..." form.
func VerifySignature(pub *rsa.PublicKey, content, header string) error {
	if pub == nil {
		return ErrInvalidKey
	}
	raw := extractSignature(header)
	if raw == "" {
		return errors.New("gateway: empty signature")
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return fmt.Errorf("gateway: undecodable signature: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(decoded)
	if err != nil {
		return fmt.Errorf("gateway: signature is not base64: %w", err)
	}
	digest := sha256.Sum256([]byte(content))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("gateway: signature mismatch: %w", err)
	}
	return nil
}

func extractSignature(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.Contains(header, "signature=") {
		return header
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if value, ok := strings.CutPrefix(part, "signature="); ok {
			return value
		}
	}
	return ""
}

// ParsePrivateKey accepts a PKCS#8 or PKCS#1 RSA private key, either
// PEM-armoured or as the bare base64 DER blob the gateway dashboard issues.
func ParsePrivateKey(material string) (*rsa.PrivateKey, error) {
	der, err := keyDER(material, "PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKey)
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unparsable private key", ErrInvalidKey)
}

// ParsePublicKey accepts a PKIX RSA public key, PEM-armoured or bare base64.
func ParsePublicKey(material string) (*rsa.PublicKey, error) {
	der, err := keyDER(material, "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable public key", ErrInvalidKey)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKey)
	}
	return rsaKey, nil
}

func keyDER(material, blockType string) ([]byte, error) {
	trimmed := strings.TrimSpace(material)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrInvalidKey, strings.ToLower(blockType))
	}
	if strings.Contains(trimmed, "-----BEGIN") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil {
			return nil, fmt.Errorf("%w: bad PEM block", ErrInvalidKey)
		}
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(trimmed), ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return der, nil
}
