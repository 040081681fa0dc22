// Package postgreskeys persists signing keys in Postgres. It backs a local
// issuer whose key material has to survive restarts: the active row signs,
// every row verifies, so a rotation never orphans outstanding tokens.
package postgreskeys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mr-tron/base58"

	core "github.com/henrigvs/aidji-boot-sub000/core"
	jwtkit "github.com/henrigvs/aidji-boot-sub000/jwt"
)

// Store provides signing-key lookups/mutations against the auth schema.
type Store struct {
	pg     *pgxpool.Pool
	schema string
}

func NewStore(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "auth"
	}
	return &Store{pg: pg, schema: s}
}

func (s *Store) keysTable() string { return s.schema + ".signing_keys" }

// SigningKey is one row of the signing_keys table.
type SigningKey struct {
	KID           string
	PrivateKeyPEM string
	PublicKeyPEM  string
	Algorithm     string
	Active        bool
	CreatedAt     time.Time
	RetiredAt     *time.Time
}

const keyColumns = `kid, private_key_pem, public_key_pem, algorithm, active, created_at, retired_at`

func scanKey(row pgx.Row) (SigningKey, error) {
	var k SigningKey
	err := row.Scan(&k.KID, &k.PrivateKeyPEM, &k.PublicKeyPEM, &k.Algorithm, &k.Active, &k.CreatedAt, &k.RetiredAt)
	return k, err
}

// InsertKey stores a key without activating it.
func (s *Store) InsertKey(ctx context.Context, k SigningKey) error {
	if strings.TrimSpace(k.KID) == "" {
		return errors.New("insert key: kid is required")
	}
	if k.Algorithm == "" {
		k.Algorithm = "RS256"
	}
	_, err := s.pg.Exec(ctx,
		`INSERT INTO `+s.keysTable()+` (kid, private_key_pem, public_key_pem, algorithm) VALUES ($1, $2, $3, $4)`,
		k.KID, k.PrivateKeyPEM, k.PublicKeyPEM, k.Algorithm)
	return err
}

// ActivateKey makes kid the signing key. The previously active key stays in
// the table, inactive, so its public half keeps verifying.
func (s *Store) ActivateKey(ctx context.Context, kid string) error {
	tx, err := s.pg.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE `+s.keysTable()+` SET active=false WHERE active`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE `+s.keysTable()+` SET active=true, retired_at=NULL WHERE kid=$1`, kid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("activate key: no key with kid %q", kid)
	}
	return tx.Commit(ctx)
}

// RetireKey stops kid from signing. The row stays so outstanding tokens
// keep verifying until the key is deleted.
func (s *Store) RetireKey(ctx context.Context, kid string) error {
	_, err := s.pg.Exec(ctx,
		`UPDATE `+s.keysTable()+` SET active=false, retired_at=NOW() WHERE kid=$1 AND retired_at IS NULL`, kid)
	return err
}

// DeleteKey removes the row. Tokens signed with it stop verifying.
func (s *Store) DeleteKey(ctx context.Context, kid string) error {
	_, err := s.pg.Exec(ctx, `DELETE FROM `+s.keysTable()+` WHERE kid=$1`, kid)
	return err
}

// ActiveKey returns the signing key, or nil when none is active.
func (s *Store) ActiveKey(ctx context.Context) (*SigningKey, error) {
	k, err := scanKey(s.pg.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM `+s.keysTable()+` WHERE active LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Keys returns every stored key, oldest first.
func (s *Store) Keys(ctx context.Context) ([]SigningKey, error) {
	rows, err := s.pg.Query(ctx,
		`SELECT `+keyColumns+` FROM `+s.keysTable()+` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SigningKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Rotate generates a fresh RSA key pair, stores it, and activates it.
// Returns the new kid.
func (s *Store) Rotate(ctx context.Context) (string, error) {
	k, err := generateSigningKey()
	if err != nil {
		return "", err
	}
	if err := s.InsertKey(ctx, k); err != nil {
		return "", err
	}
	if err := s.ActivateKey(ctx, k.KID); err != nil {
		return "", err
	}
	return k.KID, nil
}

// LoadKeySource assembles a key source from the table: the active row
// signs, every row verifies. Call it at startup and hand the result to the
// issuer and the JWKS endpoint.
func (s *Store) LoadKeySource(ctx context.Context) (jwtkit.StaticKeySource, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return jwtkit.StaticKeySource{}, err
	}
	return buildKeySource(keys)
}

func buildKeySource(keys []SigningKey) (jwtkit.StaticKeySource, error) {
	source := jwtkit.StaticKeySource{Pubs: make(map[string]*rsa.PublicKey, len(keys))}
	for _, k := range keys {
		pub, err := jwtkit.ParseRSAPublicKeyPEM([]byte(k.PublicKeyPEM))
		if err != nil {
			return jwtkit.StaticKeySource{}, &core.ConfigurationError{
				Reason: fmt.Sprintf("keystore: stored public key %q is unreadable", k.KID),
				Err:    err,
			}
		}
		source.Pubs[k.KID] = pub

		if k.Active {
			signer, err := jwtkit.NewRSASignerFromPEM(k.KID, []byte(k.PrivateKeyPEM))
			if err != nil {
				return jwtkit.StaticKeySource{}, &core.ConfigurationError{
					Reason: fmt.Sprintf("keystore: stored private key %q is unreadable", k.KID),
					Err:    err,
				}
			}
			source.Active = signer
		}
	}
	if source.Active == nil {
		return jwtkit.StaticKeySource{}, &core.ConfigurationError{Reason: "keystore: no active signing key"}
	}
	return source, nil
}

func generateSigningKey() (SigningKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return SigningKey{}, fmt.Errorf("generate signing key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return SigningKey{}, fmt.Errorf("encode public key: %w", err)
	}

	return SigningKey{
		KID:           newKeyID(),
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		Algorithm:     "RS256",
	}, nil
}

func newKeyID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("key-%d", time.Now().UnixNano())
	}
	return "key-" + base58.Encode(buf)
}
