// Package errdef defines the error taxonomy shared by the cache, the
// subscription layer, the recovery executor and the facade.
package errdef

import "github.com/KOMKZ/go-yogan-accountsync/errcode"

// ModuleCode is the errcode module for account synchronisation.
const ModuleCode = 71

const module = "accountsync"

var (
	// ErrNotFound means neither the cache nor the remote source has the account.
	ErrNotFound = errcode.New(ModuleCode, 1, module, "error.accountsync.not_found", "account not found")

	// ErrOwnershipMismatch means the remote record belongs to an unexpected owner.
	ErrOwnershipMismatch = errcode.New(ModuleCode, 2, module, "error.accountsync.ownership_mismatch", "account owner mismatch")

	// ErrDecodeFailure means raw account bytes could not be decoded.
	ErrDecodeFailure = errcode.New(ModuleCode, 3, module, "error.accountsync.decode_failure", "account decode failed")

	// ErrCapacityExceeded means the subscription manager is at its cap.
	ErrCapacityExceeded = errcode.New(ModuleCode, 4, module, "error.accountsync.capacity_exceeded", "subscription capacity exceeded")

	// ErrCircuitOpen means a breaker rejected the call without invoking it.
	ErrCircuitOpen = errcode.New(ModuleCode, 5, module, "error.accountsync.circuit_open", "circuit breaker is open")

	// ErrTimeout means an attempt exceeded its deadline and was abandoned.
	ErrTimeout = errcode.New(ModuleCode, 6, module, "error.accountsync.timeout", "operation timed out")

	// ErrTransport covers RPC and websocket failures.
	ErrTransport = errcode.New(ModuleCode, 7, module, "error.accountsync.transport", "transport error")

	// ErrInvalidArgument covers malformed input such as a bad address.
	ErrInvalidArgument = errcode.New(ModuleCode, 8, module, "error.accountsync.invalid_argument", "invalid argument")

	// ErrClosed is returned by components after Shutdown/Close.
	ErrClosed = errcode.New(ModuleCode, 9, module, "error.accountsync.closed", "component is shut down")
)
