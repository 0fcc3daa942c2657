package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrive_FinishesCommand(t *testing.T) {
	cmd := newStep(3, true)

	res := <-Drive(context.Background(), cmd, time.Millisecond)
	assert.True(t, res.Accepted)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, cmd.pollCount())
}

func TestDrive_PollErrorStops(t *testing.T) {
	child := newStep(1, true)
	require.NoError(t, child.Poll())

	// The child is also polled outside the composite before it finished
	c := NewComposite(newStep(1, true))
	c.children = append(c.children, child)
	c.polled = append(c.polled, false)
	c.done = append(c.done, false)

	_, err := WaitFor(context.Background(), c, time.Millisecond)
	assert.ErrorIs(t, err, ErrPollAfterFinish)
}

func TestDrive_ContextCancelStopsPolling(t *testing.T) {
	cmd := newStep(1_000_000, true)
	ctx, cancel := context.WithCancel(context.Background())

	results := Drive(ctx, cmd, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	res := <-results
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, res.Accepted)

	polls := cmd.pollCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, polls, cmd.pollCount(), "no polling after cancel")
}

func TestDrive_BellWakesEarly(t *testing.T) {
	f := NewFunc(func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	start := time.Now()
	accepted, err := WaitFor(context.Background(), f, time.Hour)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDrive_DoneReturnsImmediately(t *testing.T) {
	accepted, err := WaitFor(context.Background(), Done(false), time.Hour)
	assert.NoError(t, err)
	assert.False(t, accepted)
}

func TestBell_Coalesces(t *testing.T) {
	b := NewBell()
	b.Ring()
	b.Ring()

	<-b.C()
	select {
	case <-b.C():
		t.Fatal("rings should coalesce")
	default:
	}

	var nilBell *Bell
	assert.NotPanics(t, nilBell.Ring)
	assert.Nil(t, nilBell.C())
}
