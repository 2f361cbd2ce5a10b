package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces directory entries in a shared Redis.
const DefaultRedisPrefix = "tofusig:directory:"

// RedisStore is a Store shared between processes through Redis. Values are
// JSON documents holding the fetch time and the directory in wire format;
// the directory is validated again through Parse when read back.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type redisEntry struct {
	FetchedAt int64           `json:"fetched_at"`
	Directory json.RawMessage `json:"directory"`
}

// NewRedisStore returns a store that keeps entries under prefix. An empty
// prefix selects DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, url string) (Entry, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}

	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}

	var re redisEntry
	if err := json.Unmarshal(b, &re); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached entry: %w", err)
	}

	d, err := Parse(re.Directory)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cached directory: %w", err)
	}

	return Entry{Directory: d, FetchedAt: time.UnixMilli(re.FetchedAt)}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, url string, e Entry) error {
	d, err := json.Marshal(e.Directory)
	if err != nil {
		return fmt.Errorf("encode directory: %w", err)
	}

	b, err := json.Marshal(redisEntry{FetchedAt: e.FetchedAt.UnixMilli(), Directory: d})
	if err != nil {
		return fmt.Errorf("encode cached entry: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+url, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, url string) error {
	if err := s.client.Del(ctx, s.prefix+url).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	urls := make([]string, len(keys))
	for i, k := range keys {
		urls[i] = strings.TrimPrefix(k, s.prefix)
	}

	sort.Strings(urls)

	return urls, nil
}

// scan returns the raw Redis keys under the prefix. Matches are filtered
// again by prefix, and deduplicated since SCAN may repeat keys.
func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var keys []string

	seen := make(map[string]struct{})

	iter := s.client.Scan(ctx, 0, escapeGlob(s.prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup || !strings.HasPrefix(k, s.prefix) {
			continue
		}

		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	return keys, nil
}

func escapeGlob(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}
