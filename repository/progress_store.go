package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"catalog-import-service/models"

	"github.com/go-redis/redis/v8"
)

const (
	progressKeyPrefix = "catalog_import:progress:"
	progressTTL       = 24 * time.Hour
)

// RedisProgressStore keeps run state under catalog_import:progress:<brand>.
type RedisProgressStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisProgressStore(rdb *redis.Client) *RedisProgressStore {
	return &RedisProgressStore{rdb: rdb, ttl: progressTTL}
}

func (s *RedisProgressStore) Save(ctx context.Context, state models.ImportRunState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode import progress: %w", err)
	}
	if err := s.rdb.Set(ctx, progressKeyPrefix+state.Brand, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save import progress: %w", err)
	}
	return nil
}

func (s *RedisProgressStore) Load(ctx context.Context, brand string) (*models.ImportRunState, error) {
	val, err := s.rdb.Get(ctx, progressKeyPrefix+brand).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load import progress: %w", err)
	}
	var state models.ImportRunState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("decode import progress: %w", err)
	}
	return &state, nil
}

func (s *RedisProgressStore) Delete(ctx context.Context, brand string) error {
	if err := s.rdb.Del(ctx, progressKeyPrefix+brand).Err(); err != nil {
		return fmt.Errorf("delete import progress: %w", err)
	}
	return nil
}

// FileProgressStore keeps run state as <dir>/<escaped brand>.json. Writes go through
// a temp file and a rename so a crash never leaves a half-written record.
type FileProgressStore struct {
	dir string
}

func NewFileProgressStore(dir string) (*FileProgressStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	return &FileProgressStore{dir: dir}, nil
}

func (s *FileProgressStore) path(brand string) string {
	// PathEscape is injective and escapes separators, so distinct brands
	// never share a file.
	return filepath.Join(s.dir, url.PathEscape(brand)+".json")
}

func (s *FileProgressStore) Save(_ context.Context, state models.ImportRunState) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode import progress: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".progress-*")
	if err != nil {
		return fmt.Errorf("save import progress: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save import progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save import progress: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(state.Brand)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save import progress: %w", err)
	}
	return nil
}

func (s *FileProgressStore) Load(_ context.Context, brand string) (*models.ImportRunState, error) {
	b, err := os.ReadFile(s.path(brand))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load import progress: %w", err)
	}
	var state models.ImportRunState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode import progress: %w", err)
	}
	return &state, nil
}

func (s *FileProgressStore) Delete(_ context.Context, brand string) error {
	err := os.Remove(s.path(brand))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete import progress: %w", err)
	}
	return nil
}
