package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResultNotFound is returned when no result is stored for a task id.
var ErrResultNotFound = errors.New("jobs: result not found")

// Result is the stored outcome of a task execution.
type Result struct {
	IsErr       bool            `json:"isErr"`
	ReturnValue json.RawMessage `json:"returnValue,omitempty"`
	Log         string          `json:"log,omitempty"`
}

// ResultStore persists task results keyed by envelope id.
type ResultStore interface {
	Save(ctx context.Context, taskID string, result *Result) error
	Load(ctx context.Context, taskID string) (*Result, error)
}

// RedisResultStore stores results in Redis with a bounded retention.
type RedisResultStore struct {
	client    *redis.Client
	retention time.Duration
}

// RedisStoreOption configures the RedisResultStore.
type RedisStoreOption func(*RedisResultStore)

// WithRetention sets how long results are kept.
func WithRetention(d time.Duration) RedisStoreOption {
	return func(s *RedisResultStore) {
		s.retention = d
	}
}

// NewRedisResultStore creates a store over the given Redis client.
func NewRedisResultStore(client *redis.Client, options ...RedisStoreOption) *RedisResultStore {
	s := &RedisResultStore{
		client:    client,
		retention: time.Hour,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

func resultKey(taskID string) string {
	return "bpmnflow:result:" + taskID
}

func (s *RedisResultStore) Save(ctx context.Context, taskID string, result *Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.Set(ctx, resultKey(taskID), raw, s.retention).Err(); err != nil {
		return fmt.Errorf("save result %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisResultStore) Load(ctx context.Context, taskID string) (*Result, error) {
	raw, err := s.client.Get(ctx, resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", taskID, err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return &result, nil
}

// MemoryResultStore is an in-process ResultStore used in tests and
// single-node setups.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*Result
}

// NewMemoryResultStore creates an empty in-memory store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string]*Result)}
}

func (s *MemoryResultStore) Save(ctx context.Context, taskID string, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.results[taskID] = &copied
	return nil
}

func (s *MemoryResultStore) Load(ctx context.Context, taskID string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[taskID]
	if !ok {
		return nil, ErrResultNotFound
	}
	copied := *result
	return &copied, nil
}
