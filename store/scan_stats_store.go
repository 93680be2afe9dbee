package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"charassets/domain"
)

// ScanStatsStore holds the per-character stability records.
//
// Lifecycle: opened (loaded) once at pipeline start, Put during the run, Flush at
// the end. A single writer per run is assumed.
type ScanStatsStore interface {
	Get(id string) (domain.ScanStats, bool, error)
	Put(id string, s domain.ScanStats) error
	All() (map[string]domain.ScanStats, error)
	Flush() error
}

type FileScanStatsStore struct {
	path  string
	mu    sync.Mutex
	stats map[string]domain.ScanStats
	dirty bool
}

// OpenFileScanStatsStore loads path; a missing file starts an empty store.
func OpenFileScanStatsStore(path string) (*FileScanStatsStore, error) {
	s := &FileScanStatsStore{path: path, stats: make(map[string]domain.ScanStats)}
	if _, err := ReadJSON(path, &s.stats); err != nil {
		return nil, err
	}
	if s.stats == nil {
		s.stats = make(map[string]domain.ScanStats)
	}
	return s, nil
}

func (s *FileScanStatsStore) Get(id string) (domain.ScanStats, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[strings.TrimSpace(id)]
	return st, ok, nil
}

func (s *FileScanStatsStore) Put(id string, st domain.ScanStats) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("character id empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[id] = st
	s.dirty = true
	return nil
}

func (s *FileScanStatsStore) All() (map[string]domain.ScanStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ScanStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out, nil
}

func (s *FileScanStatsStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := WriteJSON(s.path, s.stats); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// RedisScanStatsStore keeps the stats map in one Redis hash (field = character
// id, value = JSON record) so several machines can share scan history.
// Writes go straight through; Flush is a no-op.
type RedisScanStatsStore struct {
	rdb *redis.Client
	key string
}

// NewRedisScanStatsStore uses rdb (owned by the caller) and the given hash key.
func NewRedisScanStatsStore(rdb *redis.Client, key string) (*RedisScanStatsStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "charassets:scanstats"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Printf("scan stats store: redis enabled addr=%s key=%s", rdb.Options().Addr, key)
	return &RedisScanStatsStore{rdb: rdb, key: key}, nil
}

func (s *RedisScanStatsStore) Get(id string) (domain.ScanStats, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ScanStats{}, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := s.rdb.HGet(ctx, s.key, id).Result()
	if err == redis.Nil {
		return domain.ScanStats{}, false, nil
	}
	if err != nil {
		return domain.ScanStats{}, false, err
	}
	var st domain.ScanStats
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return domain.ScanStats{}, false, err
	}
	return st, true, nil
}

func (s *RedisScanStatsStore) Put(id string, st domain.ScanStats) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("character id empty")
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.rdb.HSet(ctx, s.key, id, b).Err()
}

func (s *RedisScanStatsStore) All() (map[string]domain.ScanStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	vals, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ScanStats, len(vals))
	for id, raw := range vals {
		var st domain.ScanStats
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			// skip corrupt entries; the next scan rewrites them
			log.Printf("scan stats: bad record id=%s: %v", id, err)
			continue
		}
		out[id] = st
	}
	return out, nil
}

func (s *RedisScanStatsStore) Flush() error { return nil }
