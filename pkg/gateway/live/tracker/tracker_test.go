package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	warns   atomic.Int64
	closes  atomic.Int64
	warnErr error
}

func (f *fakeConn) Warn(code, message string) error {
	f.warns.Add(1)
	return f.warnErr
}

func (f *fakeConn) Close() { f.closes.Add(1) }

func TestTracker_AddRelease(t *testing.T) {
	tr := New()
	r1 := tr.Add("s2", &fakeConn{})
	r2 := tr.Add("s1", &fakeConn{})
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, []string{"s1", "s2"}, tr.SessionIDs())

	r1()
	r1()
	assert.Equal(t, 1, tr.Len())

	r2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.True(t, tr.Wait(ctx))
	assert.Zero(t, tr.Len())
}

func TestTracker_AddReplacesSameSession(t *testing.T) {
	tr := New()
	oldRelease := tr.Add("s1", &fakeConn{})
	newRelease := tr.Add("s1", &fakeConn{})
	assert.Equal(t, 1, tr.Len())

	oldRelease()
	assert.Equal(t, 1, tr.Len(), "releasing the replaced entry leaves the new one")

	newRelease()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.True(t, tr.Wait(ctx))
}

func TestTracker_BroadcastAndCloseAll(t *testing.T) {
	tr := New()
	ok := &fakeConn{}
	broken := &fakeConn{warnErr: errors.New("queue full")}
	tr.Add("s1", ok)
	tr.Add("s2", broken)

	assert.Equal(t, 1, tr.Broadcast("shutting_down", "server is draining"))
	assert.EqualValues(t, 1, ok.warns.Load())
	assert.EqualValues(t, 1, broken.warns.Load())

	assert.Equal(t, 2, tr.CloseAll())
	assert.EqualValues(t, 1, ok.closes.Load())
	assert.EqualValues(t, 1, broken.closes.Load())
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := New()
	release := tr.Add("s1", &fakeConn{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.False(t, tr.Wait(ctx))

	release()
	assert.True(t, tr.Wait(context.Background()))
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	tr.Add("s1", nil)()
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.Broadcast("x", "y"))
	assert.Zero(t, tr.CloseAll())
	assert.True(t, tr.Wait(context.Background()))
}
