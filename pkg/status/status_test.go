package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink remembers every update it receives
type recordingSink struct {
	mu      sync.Mutex
	updates []Indicator
	err     error
}

func (r *recordingSink) Update(_ context.Context, ind Indicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, ind)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestIndicatorConstructors(t *testing.T) {
	start := Starting()
	assert.Equal(t, IndicatorID, start.ID)
	assert.Equal(t, Title, start.Title)
	assert.Equal(t, BodyStarting, start.Body)
	assert.True(t, start.Ongoing)
	assert.False(t, start.IsTerminal())
	assert.False(t, start.IsFailure())

	done := Completed()
	assert.Equal(t, IndicatorID, done.ID)
	assert.Equal(t, BodyCompleted, done.Body)
	assert.False(t, done.Ongoing)
	assert.True(t, done.IsTerminal())
	assert.False(t, done.IsFailure())

	failed := Failed("exit status 1")
	assert.Equal(t, "failed: exit status 1", failed.Body)
	assert.True(t, failed.IsFailure())

	assert.Equal(t, "failed", Failed("").Body)
}

func TestFileSink_UpdateReplacesSlot(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := NewFileSink(fs, "/run/bootmount")
	ctx := context.Background()

	require.NoError(t, sink.Update(ctx, Starting()))

	got, err := sink.Read(IndicatorID)
	require.NoError(t, err)
	assert.Equal(t, Starting(), got)

	require.NoError(t, sink.Update(ctx, Completed()))

	got, err = sink.Read(IndicatorID)
	require.NoError(t, err)
	assert.Equal(t, Completed(), got)

	// Exactly one slot, no leftover temp file
	entries, err := afero.ReadDir(fs, "/run/bootmount")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, IndicatorID+".json", entries[0].Name())
}

func TestFileSink_DefaultDir(t *testing.T) {
	sink := NewFileSink(afero.NewMemMapFs(), "")
	assert.Equal(t, DefaultStateDir+"/"+IndicatorID+".json", sink.Path(IndicatorID))
}

func TestFileSink_ReadOnlyFs(t *testing.T) {
	sink := NewFileSink(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/run/bootmount")
	err := sink.Update(context.Background(), Starting())
	assert.Error(t, err)
}

func TestFileSink_ReadMissing(t *testing.T) {
	sink := NewFileSink(afero.NewMemMapFs(), "/run/bootmount")
	_, err := sink.Read(IndicatorID)
	assert.Error(t, err)
}

func TestMultiSink_ContinuesPastFailure(t *testing.T) {
	failing := &recordingSink{err: errors.New("api down")}
	healthy := &recordingSink{}

	m := NewMultiSink().Add("remote", failing).Add("local", healthy)
	assert.Equal(t, 2, m.Len())

	err := m.Update(context.Background(), Starting())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote")
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())
}

func TestMultiSink_Empty(t *testing.T) {
	assert.NoError(t, NewMultiSink().Update(context.Background(), Completed()))
}

func TestLogSink_NeverFails(t *testing.T) {
	sink := NewLogSink()
	ctx := context.Background()
	assert.NoError(t, sink.Update(ctx, Starting()))
	assert.NoError(t, sink.Update(ctx, Completed()))
	assert.NoError(t, sink.Update(ctx, Failed("spawn failed")))
}

func TestSinkFunc(t *testing.T) {
	var got Indicator
	sink := SinkFunc(func(_ context.Context, ind Indicator) error {
		got = ind
		return nil
	})
	require.NoError(t, sink.Update(context.Background(), Completed()))
	assert.Equal(t, Completed(), got)
}

func TestBreakerSink_OpensAfterFailures(t *testing.T) {
	inner := &recordingSink{err: errors.New("connection refused")}
	b := NewBreakerSink("node", inner, time.Hour)
	ctx := context.Background()

	for i := 0; i < DefaultConsecutiveFailures; i++ {
		err := b.Update(ctx, Starting())
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrSinkUnavailable), "iteration %d should reach the sink", i)
	}
	assert.Equal(t, "open", b.State())

	err := b.Update(ctx, Completed())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
	assert.Equal(t, DefaultConsecutiveFailures, inner.count(), "open breaker must not call the sink")
}

func TestBreakerSink_PassesThroughSuccess(t *testing.T) {
	inner := &recordingSink{}
	b := NewBreakerSink("file", inner, 0)

	require.NoError(t, b.Update(context.Background(), Starting()))
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, 1, inner.count())
}
