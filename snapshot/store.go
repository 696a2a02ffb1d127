// Package snapshot is an optional second-level store for raw account
// state. It is shared across processes (redis) or survives an L1 clear
// (memory, ristretto, bigcache), and is consulted before the RPC.
package snapshot

import (
	"context"
	"time"
)

// Record is the raw state of one account as last read from the ledger.
type Record struct {
	Address    string    `json:"address" msgpack:"address" cbor:"1,keyasint"`
	Data       []byte    `json:"data" msgpack:"data" cbor:"2,keyasint"`
	Owner      string    `json:"owner" msgpack:"owner" cbor:"3,keyasint"`
	Lamports   uint64    `json:"lamports" msgpack:"lamports" cbor:"4,keyasint"`
	Slot       uint64    `json:"slot" msgpack:"slot" cbor:"5,keyasint"`
	Executable bool      `json:"executable" msgpack:"executable" cbor:"6,keyasint"`
	RentEpoch  uint64    `json:"rent_epoch" msgpack:"rent_epoch" cbor:"7,keyasint"`
	FetchedAt  time.Time `json:"fetched_at" msgpack:"fetched_at" cbor:"8,keyasint"`
}

// Store is a byte store with TTLs. Get returns ErrCacheMiss on a miss.
// Implementations must be safe for concurrent use.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Serializer turns records into bytes and back.
type Serializer interface {
	Serialize(r Record) ([]byte, error)
	Deserialize(data []byte) (Record, error)
	Name() string
}
