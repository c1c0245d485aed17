package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
)

type fiberEntry struct {
	ExpiresAt int64           `json:"exp,omitempty"` // unix milliseconds, 0 never expires
	Data      json.RawMessage `json:"data"`
}

// FiberStorage adapts a byte oriented fiber.Storage (memory, redis, ...) to
// Storage by encoding values as JSON. The expiry is kept next to the value so
// Save can rewrite it without extending its lifetime.
type FiberStorage struct {
	storage fiber.Storage
	now     func() time.Time
}

func (s *FiberStorage) load(key string) (*fiberEntry, error) {
	raw, err := s.storage.Get(key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	var entry fiberEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if entry.ExpiresAt != 0 && s.now().UnixMilli() >= entry.ExpiresAt {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *FiberStorage) store(key string, val any, expiresAt int64) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(fiberEntry{ExpiresAt: expiresAt, Data: data})
	if err != nil {
		return err
	}
	var exp time.Duration
	if expiresAt != 0 {
		exp = time.UnixMilli(expiresAt).Sub(s.now())
		if exp <= 0 {
			return s.storage.Delete(key)
		}
	}
	return s.storage.Set(key, raw, exp)
}

func (s *FiberStorage) Get(ctx context.Context, key string, val any) error {
	entry, err := s.load(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(entry.Data, val)
}

func (s *FiberStorage) Set(ctx context.Context, key string, val any, expiresIn time.Duration) error {
	if expiresIn == -1 {
		return s.Save(ctx, key, val)
	}
	var expiresAt int64
	if expiresIn > 0 {
		expiresAt = s.now().Add(expiresIn).UnixMilli()
	}
	return s.store(key, val, expiresAt)
}

func (s *FiberStorage) Save(ctx context.Context, key string, val any) error {
	var expiresAt int64
	entry, err := s.load(key)
	if err == nil {
		expiresAt = entry.ExpiresAt
	} else if err != ErrNotFound {
		return err
	}
	return s.store(key, val, expiresAt)
}

func (s *FiberStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.load(key); err != nil {
		return err
	}
	return s.storage.Delete(key)
}

func (s *FiberStorage) Expire(ctx context.Context, key string, expiresAt time.Time) error {
	entry, err := s.load(key)
	if err != nil {
		return err
	}
	entry.ExpiresAt = expiresAt.UnixMilli()
	return s.store(key, entry.Data, entry.ExpiresAt)
}

func NewFiberStorage(storage fiber.Storage) *FiberStorage {
	return &FiberStorage{
		storage: storage,
		now:     time.Now,
	}
}
