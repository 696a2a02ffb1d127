package rpcclient

import (
	"github.com/mr-tron/base58"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
)

// AddressLength is the decoded size of an account address.
const AddressLength = 32

// ValidateAddress checks that s is a base58 encoded 32-byte public key.
func ValidateAddress(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return errdef.ErrInvalidArgument.WithMsgf("address %q is not base58", s).Wrap(err)
	}
	if len(raw) != AddressLength {
		return errdef.ErrInvalidArgument.
			WithMsgf("address %q decodes to %d bytes", s, len(raw)).
			WithData("expected", AddressLength)
	}
	return nil
}
