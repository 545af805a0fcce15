// Package natskv implements the cache port and replica holders on NATS
// JetStream KV buckets.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache is the shared L2 tier of the hydration cache. The bucket's MaxAge
// bounds every key; a shorter per-call ttl is enforced on read.
type Cache struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// New creates a cache on kv.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Get returns the value for key. An entry past its ttl reads as a miss and
// is removed.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, live := unseal(entry.Value(), c.now())
	if !live {
		_ = c.kv.Delete(ctx, encodeKey(key))
		return nil, false, nil
	}
	return data, true, nil
}

// Set stores value. A non-positive ttl leaves expiry to the bucket.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	_, err := c.kv.Put(ctx, encodeKey(key), seal(value, expires))
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// seal prefixes value with its expiry in unix nanoseconds; zero never expires.
func seal(value []byte, expires time.Time) []byte {
	out := make([]byte, 8+len(value))
	if !expires.IsZero() {
		binary.BigEndian.PutUint64(out, uint64(expires.UnixNano()))
	}
	copy(out[8:], value)
	return out
}

// unseal strips the expiry header. Values too short to carry one are
// treated as expired.
func unseal(raw []byte, now time.Time) ([]byte, bool) {
	if len(raw) < 8 {
		return nil, false
	}
	if exp := binary.BigEndian.Uint64(raw); exp != 0 && now.UnixNano() >= int64(exp) {
		return nil, false
	}
	return raw[8:], true
}

// encodeKey maps arbitrary memory keys onto the KV key alphabet.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
