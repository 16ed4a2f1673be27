package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Write(context.Background(), Decision{
			ID:   fmt.Sprintf("d%d", i),
			Kind: KindAuthnSuccess,
		}))
	}

	got, err := sink.Read(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d0", got[0].ID)

	require.NoError(t, sink.Close())
	assert.Error(t, sink.Write(context.Background(), Decision{}))
	assert.NoError(t, sink.Close())

	// Reopening appends to the existing file
	sink, err = NewFileSink(FileSinkConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), Decision{ID: "d3"}))
	got, err = sink.Read(0)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	require.NoError(t, sink.Close())
}

func TestFileSink_RotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir, MaxSize: 200, MaxFiles: 2})
	require.NoError(t, err)
	defer sink.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, sink.Write(context.Background(), Decision{
			ID:           fmt.Sprintf("decision-%02d", i),
			ConnectionID: "conn-with-a-reasonably-long-identifier",
			Kind:         KindAuthzGrant,
		}))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "decisions-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	info, err := os.Stat(filepath.Join(dir, currentFileName))
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(200))
}

func TestNewFileSink_RequiresDir(t *testing.T) {
	_, err := NewFileSink(FileSinkConfig{})
	assert.Error(t, err)
}
