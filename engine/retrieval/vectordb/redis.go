package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/palisade-ai/palisade/engine/core"
)

// RedisConfig captures connection details for a redis-backed vector store.
type RedisConfig struct {
	DSN       string
	KeyPrefix string
	Dimension int
}

type redisStore struct {
	client    *redis.Client
	keyPrefix string
	dimension int
}

type redisRecord struct {
	ID           string            `json:"id"`
	Text         string            `json:"text"`
	Embedding    []float32         `json:"embedding"`
	DivisionID   string            `json:"division_id"`
	DepartmentID string            `json:"department_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewRedisStore connects to redis and returns a scope-namespaced vector
// store. Each collection keeps a member set plus one JSON document per record.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (Store, error) {
	if cfg == nil {
		return nil, errors.New("vectordb: redis config is required")
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("vectordb: redis DSN is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("vectordb: redis dimension must be positive")
	}
	opt, err := redis.ParseURL(strings.TrimSpace(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("vectordb: invalid redis dsn: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("vectordb: redis ping failed: %w", err)
	}
	prefix := sanitizeKey(cfg.KeyPrefix)
	if prefix == "default" {
		prefix = "palisade"
	}
	return &redisStore{client: client, keyPrefix: prefix, dimension: cfg.Dimension}, nil
}

func (r *redisStore) setKey(collection string) string {
	return r.keyPrefix + ":" + sanitizeKey(collection) + ":ids"
}

func (r *redisStore) recordKey(collection, id string) string {
	return r.keyPrefix + ":" + sanitizeKey(collection) + ":record:" + id
}

func (r *redisStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, record := range records {
		if record.ID == "" {
			return fmt.Errorf("vectordb: record without id in collection %q", collection)
		}
		if len(record.Embedding) != r.dimension {
			return fmt.Errorf("vectordb: record %q dimension mismatch", record.ID)
		}
		payload, err := json.Marshal(redisRecord{
			ID:           record.ID,
			Text:         record.Text,
			Embedding:    record.Embedding,
			DivisionID:   record.Scope.DivisionID,
			DepartmentID: record.Scope.DepartmentID,
			Metadata:     record.Metadata,
		})
		if err != nil {
			return fmt.Errorf("vectordb: marshal record %q: %w", record.ID, err)
		}
		pipe.SAdd(ctx, r.setKey(collection), record.ID)
		pipe.Set(ctx, r.recordKey(collection, record.ID), payload, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("vectordb: upsert pipeline: %w", err)
	}
	return nil
}

func (r *redisStore) Search(ctx context.Context, collection string, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != r.dimension {
		return nil, errors.New("vectordb: query dimension mismatch")
	}
	ids, err := r.client.SMembers(ctx, r.setKey(collection)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("vectordb: list collection members: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(collection, id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("vectordb: load records: %w", err)
	}
	matches := make([]Match, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var record redisRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		score, err := CosineSimilarity(query, record.Embedding)
		if err != nil {
			continue
		}
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ID:       record.ID,
			Score:    score,
			Text:     record.Text,
			Scope:    core.Scope{DivisionID: record.DivisionID, DepartmentID: record.DepartmentID},
			Metadata: record.Metadata,
		})
	}
	sortMatches(matches)
	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

func (r *redisStore) Close(_ context.Context) error {
	return r.client.Close()
}
