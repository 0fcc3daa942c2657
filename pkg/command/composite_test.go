package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposite_Conjunction(t *testing.T) {
	tests := []struct {
		name     string
		children []Command
		accepted bool
	}{
		{"all accepted", []Command{Done(true), newStep(2, true), newStep(1, true)}, true},
		{"one rejected", []Command{Done(true), newStep(2, false), newStep(1, true)}, false},
		{"only done", []Command{Done(true), Done(true)}, true},
		{"done rejected", []Command{Done(false), newStep(1, true)}, false},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComposite(tt.children...)
			for i := 0; i < 5 && !c.Finished(); i++ {
				require.NoError(t, c.Poll())
				if !c.Finished() {
					assert.False(t, c.Accepted(), "accepted implies finished")
				}
			}
			require.True(t, c.Finished())
			assert.Equal(t, tt.accepted, c.Accepted())
		})
	}
}

func TestComposite_NeverPollsFinishedChild(t *testing.T) {
	fast := newStep(1, true)
	slow := newStep(4, true)
	c := NewComposite(fast, slow)

	for !c.Finished() {
		require.NoError(t, c.Poll())
	}

	assert.Equal(t, 1, fast.pollCount())
	assert.Equal(t, 4, slow.pollCount())
}

func TestComposite_ChildDrivenElsewhere(t *testing.T) {
	child := newStep(1, true)
	c := NewComposite(child)

	require.NoError(t, child.Poll())

	err := c.Poll()
	assert.ErrorIs(t, err, ErrPollAfterFinish)
}

func TestComposite_OnFinishOnce(t *testing.T) {
	calls := 0
	c := NewComposite(newStep(2, true), Done(false)).OnFinish(func(c *Composite) {
		calls++
		accepted, rejected := c.Counts()
		assert.Equal(t, 1, accepted)
		assert.Equal(t, 1, rejected)
	})

	for i := 0; i < 6; i++ {
		require.NoError(t, c.Poll())
	}
	assert.Equal(t, 1, calls)
}

func TestComposite_OnFinishWhenBornFinished(t *testing.T) {
	calls := 0
	c := NewComposite(Done(true)).OnFinish(func(*Composite) { calls++ })

	require.True(t, c.Finished())
	assert.Equal(t, 1, calls, "a parent never polls a finished child, so it fires at once")

	require.NoError(t, c.Poll())
	require.NoError(t, c.Poll())
	assert.Equal(t, 1, calls)
}

func TestComposite_ErrJoinsChildren(t *testing.T) {
	a := newStep(1, false)
	a.err = errors.New("a failed")
	b := newStep(1, false)
	b.err = errors.New("b failed")
	c := NewComposite(a, b, Done(true))

	require.NoError(t, c.Poll())
	err := c.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, a.err)
	assert.ErrorIs(t, err, b.err)
}

func TestSequence_StagesInOrder(t *testing.T) {
	first := newStep(2, false)
	second := newStep(2, true)
	s := NewSequence(first, second)

	require.NoError(t, s.Poll())
	assert.Equal(t, 0, second.pollCount(), "second stage waits for the first")

	require.NoError(t, s.Poll())
	assert.Equal(t, 1, second.pollCount(), "next stage starts in the poll that finished the previous")

	require.NoError(t, s.Poll())
	assert.True(t, s.Finished())
	assert.True(t, s.Accepted(), "outcome is the last stage's")
}

func TestSequence_Empty(t *testing.T) {
	s := NewSequence()
	assert.True(t, s.Finished())
	assert.True(t, s.Accepted())
}

func TestFunc_RunsOnFirstPoll(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := NewFunc(func() error {
		close(started)
		<-release
		return errors.New("start failed")
	})

	select {
	case <-started:
		t.Fatal("ran before the first poll")
	default:
	}

	require.NoError(t, f.Poll())
	<-started
	assert.False(t, f.Finished())

	close(release)
	require.Eventually(t, f.Finished, time.Second, 5*time.Millisecond)
	assert.False(t, f.Accepted())
	assert.EqualError(t, f.Err(), "start failed")
}
