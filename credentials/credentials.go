package credentials

import (
	"errors"
	"fmt"

	"imgforge/kv"
	"imgforge/utils"
)

const keyPrefix = "cred:"

var (
	ErrNotFound    = errors.New("credentials not found")
	ErrInvalidType = errors.New("credentials need a supported type")
)

// Types accepted in the "type" field of a credential set.
var Types = map[string]bool{
	"directServe": true,
	"local":       true,
	"s3":          true,
	"gcs":         true,
	"sftp":        true,
}

// Store keeps storage backend credentials under random access keys.
type Store struct {
	db *kv.Store
}

func NewStore(db *kv.Store) *Store {
	return &Store{db: db}
}

// Register stores creds and returns the access key jobs reference them by.
func (s *Store) Register(creds map[string]string) (string, error) {
	if !Types[creds["type"]] {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, creds["type"])
	}
	key, err := utils.GenerateRandomHex(16)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	if err := s.db.SetJSON(keyPrefix+key, creds); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Get(key string) (map[string]string, error) {
	creds := make(map[string]string)
	if err := s.db.GetJSON(keyPrefix+key, &creds); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return creds, nil
}

// Delete removes the credentials for key. Unknown keys report ErrNotFound.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Get(keyPrefix + key); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.db.Delete(keyPrefix + key)
}
