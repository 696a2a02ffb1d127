package snapshot

import "github.com/KOMKZ/go-yogan-accountsync/errcode"

// ModuleCode is the errcode module for snapshot stores.
const ModuleCode = 76

const (
	ErrCodeCacheMiss = iota + 1
	ErrCodeSerialize
	ErrCodeDeserialize
	ErrCodeStoreGet
	ErrCodeStoreSet
	ErrCodeStoreDelete
	ErrCodeUnknownBackend
)

var (
	ErrCacheMiss      = errcode.New(ModuleCode, ErrCodeCacheMiss, "snapshot", "error.snapshot.miss", "snapshot not found")
	ErrSerialize      = errcode.New(ModuleCode, ErrCodeSerialize, "snapshot", "error.snapshot.serialize", "snapshot serialization failed")
	ErrDeserialize    = errcode.New(ModuleCode, ErrCodeDeserialize, "snapshot", "error.snapshot.deserialize", "snapshot deserialization failed")
	ErrStoreGet       = errcode.New(ModuleCode, ErrCodeStoreGet, "snapshot", "error.snapshot.store_get", "snapshot store read failed")
	ErrStoreSet       = errcode.New(ModuleCode, ErrCodeStoreSet, "snapshot", "error.snapshot.store_set", "snapshot store write failed")
	ErrStoreDelete    = errcode.New(ModuleCode, ErrCodeStoreDelete, "snapshot", "error.snapshot.store_delete", "snapshot store delete failed")
	ErrUnknownBackend = errcode.New(ModuleCode, ErrCodeUnknownBackend, "snapshot", "error.snapshot.unknown_backend", "unknown snapshot backend")
)
