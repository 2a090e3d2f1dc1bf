// Package targetbus carries the current target estimate between the
// acquisition process and its consumers.
//
// The bus is conflated and best-effort: the publisher never blocks, delivery
// is fire-and-forget over localhost UDP datagrams, and a slow consumer only
// ever observes the most recently delivered estimate. There is no history
// and no at-least-once guarantee; consumers that need to distinguish a fresh
// reading from re-observing an unchanged one compare the raw payload with
// the previous read.
package targetbus

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dronefence/turret/internal/monitoring"
	"github.com/dronefence/turret/internal/track"
)

// DefaultAimAddr is where the aiming process listens for target estimates.
const DefaultAimAddr = "127.0.0.1:8700"

const dropLogInterval = 10 * time.Second

// Publisher fans target estimates out to a fixed set of consumer addresses.
// Publish is non-blocking and conflates: a single pending slot holds the
// newest undelivered payload, and a stalled sender discards superseded
// values rather than the fresh one.
type Publisher struct {
	conns   []*net.UDPConn
	pending chan []byte // capacity 1, latest value wins
	started bool
	done    chan struct{}
}

// NewPublisher dials each consumer address. The publisher is usable after
// Start has been called with a live context.
func NewPublisher(addrs []string) (*Publisher, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("target bus needs at least one consumer address")
	}

	conns := make([]*net.UDPConn, 0, len(addrs))
	for _, addr := range addrs {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("resolve bus consumer %s: %w", addr, err)
		}
		conn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			return nil, fmt.Errorf("dial bus consumer %s: %w", addr, err)
		}
		conns = append(conns, conn)
	}

	return &Publisher{
		conns:   conns,
		pending: make(chan []byte, 1),
		done:    make(chan struct{}),
	}, nil
}

// Start runs the send goroutine until the context is cancelled. Send errors
// are counted and logged at an interval rather than per-datagram.
func (p *Publisher) Start(ctx context.Context) {
	p.started = true

	go func() {
		defer close(p.done)

		dropped := 0
		var lastErr error
		ticker := time.NewTicker(dropLogInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-p.pending:
				for _, conn := range p.conns {
					if _, err := conn.Write(payload); err != nil {
						dropped++
						lastErr = err
					}
				}
			case <-ticker.C:
				if dropped > 0 {
					monitoring.Logf("targetbus: dropped %d sends (latest: %v)", dropped, lastErr)
					dropped = 0
					lastErr = nil
				}
			}
		}
	}()
}

// Publish enqueues the estimate for delivery. A nil estimate (no current
// target) is skipped. Never blocks: an undelivered previous value is
// superseded by the new one, so the pending slot always holds the newest
// estimate.
func (p *Publisher) Publish(e *track.Estimate) {
	if e == nil {
		return
	}

	payload, err := e.Marshal()
	if err != nil {
		monitoring.Logf("targetbus: marshal target: %v", err)
		return
	}

	for {
		select {
		case p.pending <- payload:
			return
		default:
		}
		select {
		case <-p.pending:
			// Stale value evicted; retry the send.
		default:
		}
	}
}

// Close closes the consumer connections after the send goroutine has
// stopped.
func (p *Publisher) Close() error {
	if p.started {
		<-p.done
	}
	var firstErr error
	for _, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
