package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEverySubscriberReceivesEveryMessage(t *testing.T) {
	b := New[int](8)

	subs := []*Subscriber[int]{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	for i := 0; i < 5; i++ {
		assert.Equal(t, 3, b.Send(i))
	}

	for _, sub := range subs {
		for i := 0; i < 5; i++ {
			v, ok, err := sub.TryRecv()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, i, v)
		}
	}
}

func TestSubscribeMissesEarlierMessages(t *testing.T) {
	b := New[int](8)

	b.Send(1)
	sub := b.Subscribe()
	b.Send(2)

	v, ok, err := sub.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTryRecvEmpty(t *testing.T) {
	b := New[int](8)
	sub := b.Subscribe()

	_, ok, err := sub.TryRecv()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestOverflowDropsOldestAndFlagsLag(t *testing.T) {
	b := New[int](2)
	sub := b.Subscribe()

	b.Send(1)
	b.Send(2)
	b.Send(3) // overflows, drops 1

	_, _, err := sub.TryRecv()
	assert.ErrorIs(t, err, ErrLagged)

	// after the lag report, the retained messages are still in order
	v, ok, err := sub.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok, err = sub.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLagReportedOnce(t *testing.T) {
	b := New[int](1)
	sub := b.Subscribe()

	b.Send(1)
	b.Send(2)

	_, _, err := sub.TryRecv()
	assert.ErrorIs(t, err, ErrLagged)

	_, ok, err := sub.TryRecv()
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRecvBlocksUntilSend(t *testing.T) {
	b := New[string](4)
	sub := b.Subscribe()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Send("hello")
	}()

	v, err := sub.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestRecvHonoursContext(t *testing.T) {
	b := New[int](4)
	sub := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecvTimeout(t *testing.T) {
	b := New[int](4)
	sub := b.Subscribe()

	_, ok, err := sub.RecvTimeout(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseDetaches(t *testing.T) {
	b := New[int](4)
	sub := b.Subscribe()
	sub.Close()

	assert.Equal(t, 0, b.Send(1))
	assert.Equal(t, 0, b.SubscriberCount())

	_, _, err := sub.TryRecv()
	assert.ErrorIs(t, err, ErrClosed)
}
