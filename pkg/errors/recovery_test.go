package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover(t *testing.T) {
	t.Run("panic becomes PanicError", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "BoosterUpdateOneIter")
			panic("index out of range")
		}

		err := fn()
		require.Error(t, err)

		var panicErr *PanicError
		require.True(t, errors.As(err, &panicErr))
		assert.Equal(t, "BoosterUpdateOneIter", panicErr.Operation)
		assert.Equal(t, "panic in BoosterUpdateOneIter: index out of range", panicErr.Error())
		assert.NotEmpty(t, panicErr.StackTrace)
		assert.Contains(t, panicErr.String(), "Stack trace:")
	})

	t.Run("no panic keeps nil", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "noop")
			return nil
		}
		assert.NoError(t, fn())
	})

	t.Run("pending error is wrapped", func(t *testing.T) {
		original := fmt.Errorf("original error")
		fn := func() (err error) {
			defer Recover(&err, "op")
			err = original
			panic("late panic")
		}

		err := fn()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic in op")
		assert.True(t, errors.Is(err, original))
	})

	t.Run("error panic value unwraps", func(t *testing.T) {
		cause := fmt.Errorf("bad tree")
		err := SafeExecute("predict", func() error { panic(cause) })
		assert.True(t, errors.Is(err, cause))
	})
}

func TestSafeExecute(t *testing.T) {
	assert.NoError(t, SafeExecute("ok", func() error { return nil }))

	original := fmt.Errorf("function error")
	assert.Same(t, original, SafeExecute("fail", func() error { return original }))

	err := SafeExecute("boom", func() error { panic(42) })
	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, 42, panicErr.PanicValue)
}
