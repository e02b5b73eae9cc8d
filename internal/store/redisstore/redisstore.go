// Package redisstore keeps credit records in Redis hashes and performs
// conditional writes with a server-side compare-and-set script.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/viralgo/credits/internal/model"
	"github.com/viralgo/credits/internal/store"
)

const keyPrefix = "credits:record:"

// casScript replaces the record only when the stored version equals ARGV[1].
// An expected version of 0 means no credit state may be stored yet; a blob
// without a credits key is overwritten.
var casScript = redis.NewScript(`
	local key = KEYS[1]
	local expected = tonumber(ARGV[1])

	if expected == 0 then
		local blob = redis.call('HGET', key, 'blob')
		if blob then
			local ok, doc = pcall(cjson.decode, blob)
			if (not ok) or type(doc) ~= 'table' then
				return 0
			end
			if doc.credits ~= nil and doc.credits ~= cjson.null then
				return 0
			end
		end
	else
		local current = redis.call('HGET', key, 'version')
		if (not current) or tonumber(current) ~= expected then
			return 0
		end
	end

	redis.call('HSET', key, 'version', ARGV[2], 'blob', ARGV[3])
	return 1
`)

// Store is a Redis-backed RecordStore.
type Store struct {
	client redis.UniversalClient
}

// New creates a store on an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func recordKey(userID string) string {
	return keyPrefix + userID
}

// Get loads the record for userID.
func (s *Store) Get(ctx context.Context, userID string) (*model.Record, error) {
	vals, err := s.client.HMGet(ctx, recordKey(userID), "version", "blob").Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if vals[1] == nil {
		return nil, store.ErrNotFound
	}

	blob, ok := vals[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected blob type %T", vals[1])
	}
	rec, err := model.DecodeMetadata(userID, []byte(blob))
	if err != nil {
		if errors.Is(err, model.ErrNoCreditFields) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if v, ok := vals[0].(string); ok {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version: %w", err)
		}
		rec.Version = version
	}
	return rec, nil
}

// Update writes next when the stored version matches expected.
func (s *Store) Update(ctx context.Context, userID string, expected, next *model.Record) (*model.Record, error) {
	var expectedVersion int64
	if expected != nil {
		expectedVersion = expected.Version
		if expectedVersion <= 0 {
			return nil, fmt.Errorf("%w: expected record has no version", store.ErrPreconditionFailed)
		}
	}

	written := next.Clone()
	written.UserID = userID
	written.Version = store.NextVersion(expected)

	blob, err := model.EncodeMetadata(written)
	if err != nil {
		return nil, err
	}

	ok, err := casScript.Run(ctx, s.client,
		[]string{recordKey(userID)},
		expectedVersion, written.Version, blob,
	).Int()
	if err != nil {
		return nil, unavailable(err)
	}
	if ok != 1 {
		return nil, store.ErrPreconditionFailed
	}
	return written, nil
}

// Capabilities reports atomic compare-and-set.
func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{AtomicPreconditions: true}
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}
