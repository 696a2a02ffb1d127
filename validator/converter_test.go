package validator

import (
	"errors"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/go-yogan-accountsync/errcode"
)

type stubConfig struct {
	err error
}

func (s stubConfig) Validate() error { return s.err }

func TestCheck(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Check("cache", stubConfig{}))
	})

	t.Run("field errors", func(t *testing.T) {
		err := Check("cache", stubConfig{err: validation.Errors{
			"max_entries": errors.New("must be no less than 1"),
			"ttl":         errors.New("cannot be blank"),
		}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)

		le, ok := errcode.As(err)
		require.True(t, ok)
		assert.Equal(t, "invalid cache configuration: max_entries, ttl", le.Message())
		fields := le.Data()["fields"].(map[string]string)
		assert.Equal(t, "cannot be blank", fields["ttl"])
		assert.Equal(t, "cache", le.Data()["section"])
	})

	t.Run("nested errors are flattened", func(t *testing.T) {
		err := Check("recovery", stubConfig{err: validation.Errors{
			"breaker": validation.Errors{"failure_threshold": errors.New("must be no less than 1")},
		}})
		le, ok := errcode.As(err)
		require.True(t, ok)
		fields := le.Data()["fields"].(map[string]string)
		assert.Contains(t, fields, "breaker.failure_threshold")
	})

	t.Run("fields use mapstructure names", func(t *testing.T) {
		type section struct {
			MaxEntries int `mapstructure:"max_entries"`
		}
		c := section{}
		err := Check("cache", stubConfig{err: validation.ValidateStruct(&c,
			validation.Field(&c.MaxEntries, validation.Required))})
		le, ok := errcode.As(err)
		require.True(t, ok)
		assert.Contains(t, le.Data()["fields"], "max_entries")
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		cause := errors.New("boom")
		err := Check("rpc", stubConfig{err: cause})
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, cause)
	})
}
