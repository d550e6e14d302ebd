package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Euregan/valentin/pkg/session"
)

var ErrUnknownKey = errors.New("unknown or revoked api key")

const keyPrefix = "vk_"

// Credentials are the raw secrets a caller presented. Either may be empty.
type Credentials struct {
	Session string
	Key     string
}

func (c Credentials) Empty() bool { return c.Session == "" && c.Key == "" }

func CredentialsFromRequest(r *http.Request, cookie session.CookieConfig) Credentials {
	key, _ := ParseBearer(r.Header.Get("Authorization"))
	return Credentials{
		Session: strings.TrimSpace(cookie.Read(r)),
		Key:     key,
	}
}

func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewKey returns a fresh API key and the hash under which it is stored. The
// plain key is shown to its owner once and never persisted.
func NewKey() (plain, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating api key: %w", err)
	}
	plain = keyPrefix + hex.EncodeToString(b)
	return plain, HashKey(plain), nil
}

// PGKeys resolves API keys stored as sha256 hashes in the api_keys table.
type PGKeys struct {
	DB *pgxpool.Pool
}

func (k *PGKeys) Lookup(ctx context.Context, key string) (*KeyIdentity, error) {
	var out KeyIdentity
	err := k.DB.QueryRow(ctx, `
SELECT k.key_id, k.owner_id, k.name, u.email
FROM api_keys k
JOIN users u ON u.user_id=k.owner_id
WHERE k.key_hash=$1
  AND k.revoked_at IS NULL
`, HashKey(key)).Scan(&out.KeyID, &out.OwnerID, &out.Name, &out.OwnerEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownKey
		}
		return nil, err
	}
	return &out, nil
}

func (k *PGKeys) TrackUsage(ctx context.Context, key string) error {
	_, err := k.DB.Exec(ctx, `
UPDATE api_keys
SET usage_count=usage_count+1, last_used_at=now()
WHERE key_hash=$1
`, HashKey(key))
	return err
}
