package session

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	signatureSize  = ed25519.SignatureSize
	MinSecretBytes = 32
	keyInfo        = "valentin session credential v1"
)

var (
	ErrMalformed        = errors.New("session: malformed credential")
	ErrInvalidSignature = errors.New("session: invalid signature")
	ErrExpired          = errors.New("session: credential has expired")
	ErrShortSecret      = fmt.Errorf("session: secret must be at least %d bytes", MinSecretBytes)
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

type User struct {
	ID    string `cbor:"1,keyasint" json:"id"`
	Email string `cbor:"2,keyasint" json:"email"`
	Name  string `cbor:"3,keyasint,omitempty" json:"name,omitempty"`
}

type Claims struct {
	ID        string `cbor:"1,keyasint"`
	User      User   `cbor:"2,keyasint"`
	IssuedAt  int64  `cbor:"3,keyasint"`
	ExpiresAt int64  `cbor:"4,keyasint"`
}

func (c *Claims) Expiry() time.Time { return time.Unix(c.ExpiresAt, 0).UTC() }

type Codec struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
}

func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrShortSecret
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), seed); err != nil {
		return nil, fmt.Errorf("session: deriving signing key: %w", err)
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Codec{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
		ttl:     ttl,
	}, nil
}

func (c *Codec) TTL() time.Duration { return c.ttl }

func (c *Codec) Issue(user User) (string, error) {
	return c.IssueAt(user, time.Now())
}

// IssueAt is like Issue with an explicit issue time.
func (c *Codec) IssueAt(user User, now time.Time) (string, error) {
	claims := Claims{
		ID:        uuid.NewString(),
		User:      user,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.ttl).Unix(),
	}
	payload, err := encMode.Marshal(&claims)
	if err != nil {
		return "", fmt.Errorf("session: encoding claims: %w", err)
	}
	signature := ed25519.Sign(c.private, payload)

	raw := make([]byte, len(payload)+signatureSize)
	copy(raw, payload)
	copy(raw[len(payload):], signature)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (c *Codec) Read(credential string) (*Claims, error) {
	return c.ReadAt(credential, time.Now())
}

// ReadAt is like Read with an explicit time for the expiry check.
func (c *Codec) ReadAt(credential string, now time.Time) (*Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(credential))
	if err != nil || len(raw) <= signatureSize {
		return nil, ErrMalformed
	}
	split := len(raw) - signatureSize
	payload, signature := raw[:split], raw[split:]
	if !ed25519.Verify(c.public, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var claims Claims
	if err := decMode.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.User.ID == "" {
		return nil, ErrMalformed
	}
	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrExpired
	}
	return &claims, nil
}
