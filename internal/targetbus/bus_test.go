package targetbus

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronefence/turret/internal/track"
)

// waitForTarget polls the subscriber until an estimate with the wanted ID
// arrives or the deadline passes.
func waitForTarget(t *testing.T, sub *Subscriber, id string) (track.Wire, []byte) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if wire, raw, ok := sub.Latest(); ok && wire.ID == id {
			return wire, raw
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("target %s never arrived", id)
	return track.Wire{}, nil
}

func newPair(t *testing.T, ctx context.Context) (*Publisher, *Subscriber) {
	t.Helper()

	sub, err := NewSubscriber("127.0.0.1:0")
	require.NoError(t, err)
	sub.Start(ctx)
	t.Cleanup(func() { sub.Close() })

	pub, err := NewPublisher([]string{sub.LocalAddr()})
	require.NoError(t, err)
	pub.Start(ctx)
	t.Cleanup(func() { pub.Close() })

	return pub, sub
}

func TestPublishDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub, sub := newPair(t, ctx)

	_, _, ok := sub.Latest()
	assert.False(t, ok, "no value before first publish")

	est := track.New(2, [2]float64{140, 119}, [4]float64{0.5, 0.5, 0.1, 0.1}, time.Now())
	pub.Publish(est)

	wire, _ := waitForTarget(t, sub, est.ID())
	assert.Equal(t, 2, wire.Camera)
	assert.Equal(t, [2]float64{140, 119}, wire.Abs)
	assert.False(t, wire.Tracked)
	assert.Nil(t, wire.Error)
}

func TestSubscriberKeepsNewestOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub, sub := newPair(t, ctx)

	est := track.New(0, [2]float64{0, 119}, [4]float64{0.5, 0.5, 0.1, 0.1}, time.Now())
	pub.Publish(est)
	waitForTarget(t, sub, est.ID())

	// A burst of updates conflates down to the final one.
	for i := 1; i <= 20; i++ {
		est.MarkCoarse(0, [2]float64{float64(i), 119}, est.Box(), time.Now())
		pub.Publish(est)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		wire, _, ok := sub.Latest()
		require.True(t, ok)
		if wire.Abs[0] == 20 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	wire, _, _ := sub.Latest()
	t.Fatalf("final update never became the latest value, stuck at abs=%v", wire.Abs)
}

func TestStalledSenderKeepsNewest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := NewSubscriber("127.0.0.1:0")
	require.NoError(t, err)
	sub.Start(ctx)
	t.Cleanup(func() { sub.Close() })

	pub, err := NewPublisher([]string{sub.LocalAddr()})
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	// The sender is not running yet, so every publish lands in the pending
	// slot. Each newer value must displace the older one, never the other
	// way around.
	est := track.New(0, [2]float64{0, 119}, [4]float64{0.5, 0.5, 0.1, 0.1}, time.Now())
	for i := 1; i <= 50; i++ {
		est.MarkCoarse(0, [2]float64{float64(i), 119}, est.Box(), time.Now())
		pub.Publish(est)
	}

	pub.Start(ctx)

	wire, _ := waitForTarget(t, sub, est.ID())
	assert.Equal(t, 50.0, wire.Abs[0], "the newest estimate must survive the stall, not the first queued one")
}

func TestRawPayloadDetectsReread(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub, sub := newPair(t, ctx)

	est := track.New(1, [2]float64{10, 100}, [4]float64{0.5, 0.5, 0.1, 0.1}, time.Now())
	pub.Publish(est)
	_, raw1 := waitForTarget(t, sub, est.ID())

	// Nothing new published: a second read returns byte-identical payload.
	_, raw2, ok := sub.Latest()
	require.True(t, ok)
	assert.True(t, bytes.Equal(raw1, raw2))
}

func TestMalformedDatagramIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub, sub := newPair(t, ctx)

	est := track.New(1, [2]float64{10, 100}, [4]float64{0.5, 0.5, 0.1, 0.1}, time.Now())
	pub.Publish(est)
	waitForTarget(t, sub, est.ID())

	conn, err := net.Dial("udp", sub.LocalAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json"))
	require.NoError(t, err)
	// Tracked without an error vector violates the payload contract.
	_, err = conn.Write([]byte(`{"id":"x","tracked":true,"error":null}`))
	require.NoError(t, err)

	// Give the reader a moment, then confirm the good value survived.
	time.Sleep(50 * time.Millisecond)
	wire, _, ok := sub.Latest()
	require.True(t, ok)
	assert.Equal(t, est.ID(), wire.ID)
}

func TestPublishNilIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub, sub := newPair(t, ctx)

	pub.Publish(nil)

	time.Sleep(20 * time.Millisecond)
	_, _, ok := sub.Latest()
	assert.False(t, ok)
}

func TestPublisherNeedsConsumers(t *testing.T) {
	_, err := NewPublisher(nil)
	assert.Error(t, err)
}
