package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket holding corpus records.
const DefaultBucket = "SEMDILEMMA_CORPUS"

// ErrDuplicate is returned when a record with the same sequence number exists.
var ErrDuplicate = errors.New("record already exists")

// Store persists corpus records. Put must never overwrite an existing record.
type Store interface {
	Put(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore keeps JSON-encoded records in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uint64][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uint64][]byte)}
}

// Put stores rec.
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Seq]; ok {
		return fmt.Errorf("seq %d: %w", rec.Seq, ErrDuplicate)
	}
	s.records[rec.Seq] = data
	return nil
}

// List returns every record ordered by sequence number.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, data := range s.records {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int { return compareSeq(a.Seq, b.Seq) })
	return out, nil
}

// KVStore persists records in a NATS JetStream key-value bucket, one key per
// sequence number.
type KVStore struct {
	bucket jetstream.KeyValue
	conn   *nats.Conn
}

var _ Store = (*KVStore)(nil)

// NewKVStore opens or creates bucket on js.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	// CreateOrUpdateKeyValue is idempotent across concurrent starters.
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Accepted ethical vignettes",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}
	return &KVStore{bucket: kv}, nil
}

// DialKVStore connects to url and opens bucket. Close releases the connection.
func DialKVStore(ctx context.Context, url, bucket string) (*KVStore, error) {
	nc, err := nats.Connect(url,
		nats.Name("semdilemma"),
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get jetstream: %w", err)
	}
	s, err := NewKVStore(ctx, js, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.conn = nc
	return s, nil
}

// Close drains the connection opened by DialKVStore.
func (s *KVStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

func recordKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// Put creates the key for rec. An existing key is never overwritten.
func (s *KVStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.bucket.Create(ctx, recordKey(rec.Seq), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("seq %d: %w", rec.Seq, ErrDuplicate)
		}
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// List reads every record ordered by sequence number.
func (s *KVStore) List(ctx context.Context) ([]Record, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := strconv.ParseUint(key, 10, 64); err != nil {
			continue
		}
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get record %s: %w", key, err)
		}
		var rec Record
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record %s: %w", key, err)
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int { return compareSeq(a.Seq, b.Seq) })
	return out, nil
}
