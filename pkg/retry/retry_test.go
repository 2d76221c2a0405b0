package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")
var errFatal = errors.New("fatal")

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

func fastPolicy() Policy {
	p := Once(isFlaky)
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

func TestDo_RetriesTransientOnce(t *testing.T) {
	calls := 0
	res, err := Do(context.Background(), fastPolicy(), "test", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errFlaky
		}
		return "ok", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 2, calls)
}

func TestDo_GivesUpAfterSecondTransientFailure(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), "test", func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), "test", func(context.Context) (int, error) {
		calls++
		return 0, errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}
