// Package credentials keeps feed tokens encrypted at rest in the bot's
// database. Values are sealed with AES-GCM under a key derived from the master
// key with argon2id; each ciphertext is bound to its name so rows cannot be
// swapped between secrets.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound    = errors.New("credentials: not found")
	ErrInvalidName = errors.New("credentials: invalid name")
)

const (
	SlackToken   = "slack_bot_token"
	DiscordToken = "discord_bot_token"
)

// TokenName is the secret a feed of the given kind reads its bot token from.
func TokenName(feedKind string) string {
	return strings.ToLower(feedKind) + "_bot_token"
}

type secret struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Name      string    `gorm:"column:name;not null;uniqueIndex"`
	Sealed    []byte    `gorm:"column:sealed;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (secret) TableName() string { return "feed_secrets" }

// Info describes a stored secret without its value.
type Info struct {
	Name      string
	UpdatedAt time.Time
}

type Store struct {
	db   *gorm.DB
	aead cipher.AEAD
}

func New(db *gorm.DB, masterKey string) (*Store, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("credentials: master key must not be empty")
	}
	if err := db.AutoMigrate(&secret{}); err != nil {
		return nil, fmt.Errorf("credentials: running migrations: %w", err)
	}
	aead, err := newAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, aead: aead}, nil
}

func newAEAD(masterKey string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(masterKey))
	if err != nil {
		return nil, fmt.Errorf("credentials: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: creating GCM: %w", err)
	}
	return aead, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Set stores value under name, replacing any previous value.
func (s *Store) Set(ctx context.Context, name, value string) error {
	if err := validName(name); err != nil {
		return err
	}
	sealed, err := seal(s.aead, name, []byte(value))
	if err != nil {
		return fmt.Errorf("credentials: encrypting %q: %w", name, err)
	}
	row := &secret{
		ID:        uuid.NewString(),
		Name:      name,
		Sealed:    sealed,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"sealed", "updated_at"}),
	}).Create(row).Error
}

func (s *Store) Get(ctx context.Context, name string) (string, error) {
	var row secret
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("credentials: loading %q: %w", name, err)
	}
	plain, err := open(s.aead, name, row.Sealed)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypting %q: %w", name, err)
	}
	return string(plain), nil
}

// Lookup is Get with a missing secret reported as ok=false instead of an error.
func (s *Store) Lookup(ctx context.Context, name string) (string, bool, error) {
	v, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&secret{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// List returns stored secrets ordered by name.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	var rows []secret
	if err := s.db.WithContext(ctx).Select("name", "updated_at").Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Info, len(rows))
	for i, r := range rows {
		out[i] = Info{Name: r.Name, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

// Has reports whether name is stored, without decrypting it.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&secret{}).Where("name = ?", name).Count(&n).Error
	return n > 0, err
}

// Rotate re-encrypts every secret under newKey in one transaction and returns a
// Store bound to the new key. The receiver must not be used afterwards.
func (s *Store) Rotate(ctx context.Context, newKey string) (*Store, int, error) {
	if newKey == "" {
		return nil, 0, fmt.Errorf("credentials: new master key must not be empty")
	}
	next, err := newAEAD(newKey)
	if err != nil {
		return nil, 0, err
	}

	var count int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []secret
		if err := tx.Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			plain, err := open(s.aead, r.Name, r.Sealed)
			if err != nil {
				return fmt.Errorf("decrypting %q: %w", r.Name, err)
			}
			sealed, err := seal(next, r.Name, plain)
			if err != nil {
				return fmt.Errorf("encrypting %q: %w", r.Name, err)
			}
			if err := tx.Model(&secret{}).Where("id = ?", r.ID).
				Updates(map[string]any{"sealed": sealed, "updated_at": time.Now().UTC()}).Error; err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("credentials: rotating: %w", err)
	}
	return &Store{db: s.db, aead: next}, count, nil
}

func seal(aead cipher.AEAD, name string, plain []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, []byte(name)), nil
}

func open(aead cipher.AEAD, name string, sealed []byte) ([]byte, error) {
	n := aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	return aead.Open(nil, sealed[:n], sealed[n:], []byte(name))
}

func deriveKey(masterKey string) []byte {
	sum := sha256.Sum256([]byte("codebot-credential-salt:" + masterKey))
	return argon2.IDKey([]byte(masterKey), sum[:16], 1, 64*1024, 4, 32)
}
