package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrierSucceedsAfterFailures(t *testing.T) {
	r := NewRetrier(FixedPolicy(3, time.Millisecond))

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrierExhaustsRetries(t *testing.T) {
	r := NewRetrier(FixedPolicy(2, time.Millisecond))

	sentinel := errors.New("always fails")
	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "retries exhausted after 3 attempts")
}

func TestRetrierHonorsContext(t *testing.T) {
	r := NewRetrier(FixedPolicy(10, 50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error {
		attempts++
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestPolicyValidate(t *testing.T) {
	assert.Error(t, Policy{MaxRetries: -1, InitialDelay: time.Second, Multiplier: 2}.Validate())
	assert.Error(t, Policy{MaxRetries: 1, InitialDelay: 0, Multiplier: 2}.Validate())
	assert.Error(t, Policy{MaxRetries: 1, InitialDelay: time.Second, Multiplier: 0.5}.Validate())
	assert.NoError(t, FixedPolicy(3, time.Second).Validate())
}
