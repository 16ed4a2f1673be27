package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	var order []string
	for _, name := range []string{"database", "redis", "server"} {
		name := name
		sm.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	assert.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"server", "redis", "database"}, order)

	// Second call is a no-op
	assert.NoError(t, sm.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 0)

	boom := errors.New("boom")
	ran := false
	sm.Register("first", func(ctx context.Context) error { ran = true; return nil })
	sm.Register("second", func(ctx context.Context) error { return boom })

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "second")
	assert.True(t, ran)
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 20*time.Millisecond)

	sm.Register("skipped", func(ctx context.Context) error { return nil })
	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "skipped")
}

func TestPanicHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	var recovered interface{}
	func() {
		defer RecoverPanicWithCallback(logger, "handler", func(r interface{}) { recovered = r })
		panic("kaboom")
	}()
	assert.Equal(t, "kaboom", recovered)
	assert.Contains(t, buf.String(), "panic recovered")

	assert.NotPanics(t, func() {
		defer RecoverPanic(nil, "quiet")
		panic("ignored")
	})

	assert.Nil(t, PanicError(nil))
	base := errors.New("inner")
	assert.ErrorIs(t, PanicError(base), base)
	assert.EqualError(t, PanicError(42), "panic: 42")
}
