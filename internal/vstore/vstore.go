// Package vstore implements the V-store client: the vector side of the
// dual-backend storage core, backed by Redis. Vectors are stored as
// packed little-endian float32 byte strings in a Redis hash per point,
// alongside their metadata and content digest; a per-collection Redis set
// tracks membership so list_ids doesn't require a full key scan,
// mirroring the teacher's funcListKey auxiliary-index pattern
// (internal/store/redis.go).
package vstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "cortex:vstore:"

func pointKey(collection, id string) string {
	return keyPrefix + collection + ":point:" + id
}

func indexKey(collection string) string {
	return keyPrefix + collection + ":ids"
}

func collectionsKey() string {
	return keyPrefix + "collections"
}

// Point is a single vector entry as stored in the V-store.
type Point struct {
	ID            string
	Vector        []float32
	Metadata      map[string]any
	ContentDigest string
}

// Store is the V-store client.
type Store struct {
	client *redis.Client
}

// Dial connects to Redis at addr and verifies connectivity, mirroring the
// teacher's NewRedisStore(addr, password, db).
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("vstore: connect: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// CreateCollection registers collection in the collection index, recording
// its vector dimensionality and distance metric for callers that want to
// validate upserts. Creation is idempotent; Redis hashes need no schema.
func (s *Store) CreateCollection(ctx context.Context, collection string, dim int, distance string) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, collectionsKey(), collection)
	pipe.HSet(ctx, keyPrefix+collection+":config", map[string]any{
		"dim":      dim,
		"distance": distance,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteCollection removes every point in collection and the collection
// itself from the index.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	ids, errc := s.ListIDs(ctx, collection, nil)
	pipe := s.client.Pipeline()
	for id := range ids {
		pipe.Del(ctx, pointKey(collection, id))
	}
	if err := <-errc; err != nil {
		return err
	}
	pipe.Del(ctx, indexKey(collection))
	pipe.SRem(ctx, collectionsKey(), collection)
	_, err := pipe.Exec(ctx)
	return err
}

// Upsert writes or overwrites a point in collection.
func (s *Store) Upsert(ctx context.Context, collection string, p Point) error {
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("vstore: marshal metadata: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, pointKey(collection, p.ID), map[string]any{
		"vector":         encodeVector(p.Vector),
		"metadata":       metaJSON,
		"content_digest": p.ContentDigest,
	})
	pipe.SAdd(ctx, indexKey(collection), p.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes a point from collection. It is not an error to delete an
// id that does not exist.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, pointKey(collection, id))
	pipe.SRem(ctx, indexKey(collection), id)
	_, err := pipe.Exec(ctx)
	return err
}

// ErrNotFound is returned by Get when the id does not exist in collection.
var ErrNotFound = fmt.Errorf("vstore: point not found")

// Get fetches a single point by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*Point, error) {
	res, err := s.client.HGetAll(ctx, pointKey(collection, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("vstore: get %s: %w", id, err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}

	vec, err := decodeVector([]byte(res["vector"]))
	if err != nil {
		return nil, fmt.Errorf("vstore: decode vector for %s: %w", id, err)
	}
	var meta map[string]any
	if raw := res["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("vstore: unmarshal metadata for %s: %w", id, err)
		}
	}
	return &Point{
		ID:            id,
		Vector:        vec,
		Metadata:      meta,
		ContentDigest: res["content_digest"],
	}, nil
}

// ListIDs streams every point id in collection whose metadata satisfies
// filter (nil accepts everything), using SSCAN over the collection's id
// index so no single call materializes the whole set. The returned
// channel is closed when iteration completes or ctx is cancelled; a
// cancellation surfaces through errc.
func (s *Store) ListIDs(ctx context.Context, collection string, filter func(Point) bool) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		var cursor uint64
		for {
			ids, next, err := s.client.SScan(ctx, indexKey(collection), cursor, "", 100).Result()
			if err != nil {
				errc <- fmt.Errorf("vstore: sscan: %w", err)
				return
			}
			for _, id := range ids {
				if filter != nil {
					p, err := s.Get(ctx, collection, id)
					if err != nil {
						if err == ErrNotFound {
							continue // deleted between SSCAN and Get
						}
						errc <- err
						return
					}
					if !filter(*p) {
						continue
					}
				}
				select {
				case out <- id:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}()

	return out, errc
}

// encodeVector packs a []float32 into a little-endian byte string.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian byte string into a []float32.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vstore: vector byte length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
