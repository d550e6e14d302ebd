package store

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var Schema string

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// Migrate applies Schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, Schema)
	return err
}

type User struct {
	UserID       string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Item struct {
	ItemID    string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type APIKey struct {
	KeyID      string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	err := s.DB.QueryRow(ctx, `
INSERT INTO users(user_id,email,name,password_hash)
VALUES($1,lower($2),$3,$4)
RETURNING email,created_at
`, u.UserID, u.Email, u.Name, u.PasswordHash).Scan(&u.Email, &u.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}
	return u, err
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.DB.QueryRow(ctx, `
SELECT user_id,email,name,password_hash,created_at
FROM users
WHERE email=lower($1)
`, email).Scan(&u.UserID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	return u, notFound(err)
}

func (s *Store) ListItems(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.DB.Query(ctx, `
SELECT item_id,owner_id,name,notes,created_at,updated_at
FROM items
WHERE owner_id=$1
ORDER BY created_at, item_id
`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ItemID, &it.OwnerID, &it.Name, &it.Notes, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CreateItem(ctx context.Context, it Item) (Item, error) {
	err := s.DB.QueryRow(ctx, `
INSERT INTO items(item_id,owner_id,name,notes)
VALUES($1,$2,$3,$4)
RETURNING created_at,updated_at
`, it.ItemID, it.OwnerID, it.Name, it.Notes).Scan(&it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (s *Store) GetItem(ctx context.Context, itemID string) (Item, error) {
	var it Item
	err := s.DB.QueryRow(ctx, `
SELECT item_id,owner_id,name,notes,created_at,updated_at
FROM items
WHERE item_id=$1
`, itemID).Scan(&it.ItemID, &it.OwnerID, &it.Name, &it.Notes, &it.CreatedAt, &it.UpdatedAt)
	return it, notFound(err)
}

func (s *Store) UpdateItem(ctx context.Context, it Item) (Item, error) {
	err := s.DB.QueryRow(ctx, `
UPDATE items SET name=$2, notes=$3, updated_at=now()
WHERE item_id=$1
RETURNING owner_id,created_at,updated_at
`, it.ItemID, it.Name, it.Notes).Scan(&it.OwnerID, &it.CreatedAt, &it.UpdatedAt)
	return it, notFound(err)
}

func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM items WHERE item_id=$1`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateKey(ctx context.Context, k APIKey) (APIKey, error) {
	err := s.DB.QueryRow(ctx, `
INSERT INTO api_keys(key_id,owner_id,name,key_hash)
VALUES($1,$2,$3,$4)
RETURNING created_at
`, k.KeyID, k.OwnerID, k.Name, k.KeyHash).Scan(&k.CreatedAt)
	return k, err
}

func (s *Store) ListKeys(ctx context.Context, ownerID string) ([]APIKey, error) {
	rows, err := s.DB.Query(ctx, `
SELECT key_id,owner_id,name,usage_count,last_used_at,created_at
FROM api_keys
WHERE owner_id=$1 AND revoked_at IS NULL
ORDER BY created_at, key_id
`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []APIKey{}
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.KeyID, &k.OwnerID, &k.Name, &k.UsageCount, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RevokeKey revokes an active key of ownerID. Keys of other owners are
// reported as missing.
func (s *Store) RevokeKey(ctx context.Context, ownerID, keyID string) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE api_keys SET revoked_at=now()
WHERE key_id=$1 AND owner_id=$2 AND revoked_at IS NULL
`, keyID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
