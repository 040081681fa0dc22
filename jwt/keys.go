package jwtkit

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAuthKeysPath is the default directory where External Secrets mounts auth keys.
	DefaultAuthKeysPath = "/vault/auth"

	// Environment variables checked by NewAutoKeySource.
	EnvActiveKeyID   = "AUTH_ACTIVE_KEY_ID"
	EnvPrivateKeyPEM = "AUTH_PRIVATE_KEY_PEM"
	EnvPublicKeys    = "AUTH_PUBLIC_KEYS"
)

// KeySource provides the active signer and the public keys to publish.
type KeySource interface {
	ActiveSigner() Signer
	PublicKeys() map[string]*rsa.PublicKey
}

// StaticKeySource is a simple in-memory implementation.
type StaticKeySource struct {
	Active Signer
	Pubs   map[string]*rsa.PublicKey
}

func (s StaticKeySource) ActiveSigner() Signer                  { return s.Active }
func (s StaticKeySource) PublicKeys() map[string]*rsa.PublicKey { return s.Pubs }

// GeneratedKeySource holds a key pair generated at process start. The pair
// lives only in memory: after a restart every token signed under it stops
// verifying, which is why generation is refused in production.
type GeneratedKeySource struct {
	signer *RSASigner
	pubs   map[string]*rsa.PublicKey
}

// NewGeneratedKeySource generates a fresh ephemeral RSA key pair and logs a
// prominent warning about it.
func NewGeneratedKeySource(log logrus.FieldLogger) (*GeneratedKeySource, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	kid, err := ephemeralKeyID()
	if err != nil {
		return nil, fmt.Errorf("failed to derive key id: %w", err)
	}
	signer, err := NewRSASigner(2048, kid)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	log.WithFields(logrus.Fields{
		"kid":       kid,
		"algorithm": signer.Algorithm(),
	}).Warn("generated ephemeral signing keys; tokens will NOT verify after a restart, do not use in production")

	return &GeneratedKeySource{
		signer: signer,
		pubs:   map[string]*rsa.PublicKey{kid: signer.PublicKey()},
	}, nil
}

func (g *GeneratedKeySource) ActiveSigner() Signer                  { return g.signer }
func (g *GeneratedKeySource) PublicKeys() map[string]*rsa.PublicKey { return g.pubs }

// ephemeralKeyID builds a short random key id like "ephemeral-3mJr7A".
func ephemeralKeyID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ephemeral-" + base58.Encode(buf), nil
}

// NewAutoKeySource discovers signing keys from multiple sources with the
// following priority:
//  1. Environment variables (AUTH_ACTIVE_KEY_ID, AUTH_PRIVATE_KEY_PEM,
//     AUTH_PUBLIC_KEYS) - highest priority
//  2. Filesystem /vault/auth/keys.json (External Secrets Operator in Kubernetes)
//  3. Ephemeral generated keys (development fallback)
//
// Returns an error if keys are explicitly provided but invalid, or if no keys
// are found while running in a production environment. Generation never
// happens silently in production.
func NewAutoKeySource(log logrus.FieldLogger) (KeySource, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if keySource, err := tryLoadFromEnv(log); err != nil {
		return nil, fmt.Errorf("failed to load keys from environment variables: %w", err)
	} else if keySource != nil {
		return keySource, nil
	}

	if keySource, err := tryLoadFromFilesystem(DefaultAuthKeysPath, log); err != nil {
		return nil, fmt.Errorf("failed to load keys from %s: %w", DefaultAuthKeysPath, err)
	} else if keySource != nil {
		return keySource, nil
	}

	if isProdEnv() {
		return nil, fmt.Errorf("no signing keys found in env or %s and generation is disabled in production; set %s/%s or mount keys.json", DefaultAuthKeysPath, EnvActiveKeyID, EnvPrivateKeyPEM)
	}

	keySource, err := NewGeneratedKeySource(log)
	if err != nil {
		return nil, fmt.Errorf("failed to generate development keys: %w", err)
	}
	return keySource, nil
}

// isProdEnv returns true if the current process appears to be running in a
// production environment based on common environment variables:
//
//	ENV, APP_ENV, or ENVIRONMENT (case-insensitive).
func isProdEnv() bool {
	env := strings.TrimSpace(os.Getenv("ENV"))
	if env == "" {
		env = strings.TrimSpace(os.Getenv("APP_ENV"))
	}
	if env == "" {
		env = strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	}
	env = strings.ToLower(env)
	return env == "production" || env == "prod"
}

// tryLoadFromEnv attempts to load signing keys from environment variables.
// Returns (nil, nil) if the variables are not set (not an error).
// Returns (nil, error) if the variables are set but invalid.
//
// AUTH_PRIVATE_KEY_PEM accepts raw PEM or base64-wrapped PEM, since secret
// stores commonly flatten multiline material. AUTH_PUBLIC_KEYS is an optional
// JSON map of key ids to PEM-encoded public keys for older, still-verifiable
// key pairs:
//
//	{"key-123": "-----BEGIN PUBLIC KEY-----\n...", "key-124": "..."}
func tryLoadFromEnv(log logrus.FieldLogger) (KeySource, error) {
	activeKeyID := strings.TrimSpace(os.Getenv(EnvActiveKeyID))
	activePrivateKeyPEM := strings.TrimSpace(os.Getenv(EnvPrivateKeyPEM))

	if activeKeyID == "" && activePrivateKeyPEM == "" {
		return nil, nil
	}

	if activeKeyID == "" {
		return nil, fmt.Errorf("%s is set but %s is missing", EnvPrivateKeyPEM, EnvActiveKeyID)
	}
	if activePrivateKeyPEM == "" {
		return nil, fmt.Errorf("%s is set but %s is missing", EnvActiveKeyID, EnvPrivateKeyPEM)
	}

	signer, err := NewRSASignerFromPEM(activeKeyID, []byte(activePrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", EnvPrivateKeyPEM, err)
	}

	publicKeys := map[string]*rsa.PublicKey{
		activeKeyID: signer.PublicKey(),
	}

	if publicKeysJSON := strings.TrimSpace(os.Getenv(EnvPublicKeys)); publicKeysJSON != "" {
		var pubKeyMap map[string]string
		if err := json.Unmarshal([]byte(publicKeysJSON), &pubKeyMap); err != nil {
			return nil, fmt.Errorf("failed to parse %s JSON: %w", EnvPublicKeys, err)
		}

		for kid, pemStr := range pubKeyMap {
			pub, err := ParseRSAPublicKeyPEM([]byte(pemStr))
			if err != nil {
				log.WithField("kid", kid).WithError(err).Warn("skipping unparseable public key from env")
				continue
			}
			publicKeys[kid] = pub
		}
	}

	return StaticKeySource{
		Active: signer,
		Pubs:   publicKeys,
	}, nil
}

// tryLoadFromFilesystem attempts to load signing keys from keys.json under
// keysPath. Returns (nil, nil) if the file doesn't exist (not an error).
func tryLoadFromFilesystem(keysPath string, log logrus.FieldLogger) (KeySource, error) {
	if keysPath == "" {
		keysPath = DefaultAuthKeysPath
	}

	if _, err := os.Stat(keysPath); os.IsNotExist(err) {
		return nil, nil
	}

	dataPath := filepath.Join(keysPath, "keys.json")
	data, err := os.ReadFile(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keys.json: %w", err)
	}

	var keyData struct {
		ActiveKeyID         string            `json:"active_key_id"`
		ActivePrivateKeyPEM string            `json:"active_private_key_pem"`
		PublicKeys          map[string]string `json:"public_keys"`
	}
	if err := json.Unmarshal(data, &keyData); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}

	if keyData.ActiveKeyID == "" {
		return nil, fmt.Errorf("keys.json missing active_key_id")
	}
	if keyData.ActivePrivateKeyPEM == "" {
		return nil, fmt.Errorf("keys.json missing active_private_key_pem")
	}

	signer, err := NewRSASignerFromPEM(keyData.ActiveKeyID, []byte(keyData.ActivePrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKeys := map[string]*rsa.PublicKey{keyData.ActiveKeyID: signer.PublicKey()}
	for kid, pemStr := range keyData.PublicKeys {
		pub, err := ParseRSAPublicKeyPEM([]byte(pemStr))
		if err != nil {
			log.WithField("kid", kid).WithError(err).Warn("skipping unparseable public key from keys.json")
			continue
		}
		publicKeys[kid] = pub
	}

	return StaticKeySource{
		Active: signer,
		Pubs:   publicKeys,
	}, nil
}
