package coalesce

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commitRecorder struct {
	mu      sync.Mutex
	commits []string
	err     error
	done    chan struct{}
}

func newRecorder() *commitRecorder {
	return &commitRecorder{done: make(chan struct{}, 16)}
}

func (r *commitRecorder) commit(_ context.Context, title string, content json.RawMessage) error {
	r.mu.Lock()
	r.commits = append(r.commits, title+"|"+string(content))
	err := r.err
	r.mu.Unlock()
	r.done <- struct{}{}
	return err
}

func (r *commitRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commits...)
}

func waitCommit(t *testing.T, r *commitRecorder) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit")
	}
}

func TestEditsWithinQuietWindowCollapse(t *testing.T) {
	rec := newRecorder()
	c := New(40*time.Millisecond, rec.commit, nil)

	c.Edit("T", json.RawMessage(`"a"`))
	c.Edit("T", json.RawMessage(`"ab"`))
	c.Edit("T2", json.RawMessage(`"abc"`))
	assert.True(t, c.isPending())

	waitCommit(t, rec)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, []string{`T2|"abc"`}, rec.snapshot())
	assert.False(t, c.isPending())
}

func TestEditRestartsDeadline(t *testing.T) {
	rec := newRecorder()
	c := New(200*time.Millisecond, rec.commit, nil)

	c.Edit("T", json.RawMessage(`1`))
	time.Sleep(100 * time.Millisecond)
	c.Edit("T", json.RawMessage(`2`))
	time.Sleep(120 * time.Millisecond)

	// Past the first edit's deadline but not the second's.
	assert.Empty(t, rec.snapshot())

	waitCommit(t, rec)
	assert.Equal(t, []string{"T|2"}, rec.snapshot())
}

func TestSeparateQuietWindowsCommitSeparately(t *testing.T) {
	rec := newRecorder()
	c := New(20*time.Millisecond, rec.commit, nil)

	c.Edit("T", json.RawMessage(`1`))
	waitCommit(t, rec)
	c.Edit("T", json.RawMessage(`2`))
	waitCommit(t, rec)

	assert.Equal(t, []string{"T|1", "T|2"}, rec.snapshot())
}

func TestFlushCommitsImmediately(t *testing.T) {
	rec := newRecorder()
	c := New(time.Hour, rec.commit, nil)

	c.Edit("T", json.RawMessage(`"x"`))
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, []string{`T|"x"`}, rec.snapshot())
	assert.False(t, c.isPending())

	// Idle flush does nothing.
	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, rec.snapshot(), 1)
}

func TestCloseFlushesPendingEditAndRejectsLaterEdits(t *testing.T) {
	rec := newRecorder()
	c := New(time.Hour, rec.commit, nil)

	c.Edit("T", json.RawMessage(`"unsaved"`))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, []string{`T|"unsaved"`}, rec.snapshot())

	assert.False(t, c.Edit("T", json.RawMessage(`"late"`)))
	require.NoError(t, c.Close(context.Background()))
	assert.Len(t, rec.snapshot(), 1)
}

func TestFlushReturnsCommitError(t *testing.T) {
	rec := newRecorder()
	rec.err = errors.New("forbidden")
	c := New(time.Hour, rec.commit, nil)

	c.Edit("T", json.RawMessage(`1`))
	assert.EqualError(t, c.Flush(context.Background()), "forbidden")
	assert.False(t, c.isPending())
}

func TestTimerCommitErrorReported(t *testing.T) {
	rec := newRecorder()
	rec.err = errors.New("storage down")
	reported := make(chan error, 1)
	c := New(10*time.Millisecond, rec.commit, func(err error) { reported <- err })

	c.Edit("T", json.RawMessage(`1`))

	select {
	case err := <-reported:
		assert.EqualError(t, err, "storage down")
	case <-time.After(2 * time.Second):
		t.Fatal("error was not reported")
	}
}
