package targetbus

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/dronefence/turret/internal/monitoring"
	"github.com/dronefence/turret/internal/track"
)

// delivery is one decoded datagram kept in the latest-value slot.
type delivery struct {
	wire track.Wire
	raw  []byte
}

// Subscriber receives target estimates on a UDP port and keeps only the
// newest one. Reads are conflated: however many datagrams arrive between
// two calls to Latest, the caller sees the most recent decodable one.
type Subscriber struct {
	conn    *net.UDPConn
	latest  atomic.Pointer[delivery]
	started bool
	done    chan struct{}
}

// NewSubscriber binds the listen address. Pass a ":0" port to let the kernel
// pick one; LocalAddr reports the bound address either way.
func NewSubscriber(addr string) (*Subscriber, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, done: make(chan struct{})}, nil
}

// LocalAddr reports the bound listen address.
func (s *Subscriber) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// Start runs the receive goroutine until the context is cancelled or the
// subscriber is closed. Undecodable datagrams are logged and skipped without
// disturbing the current latest value.
func (s *Subscriber) Start(ctx context.Context) {
	s.started = true

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	go func() {
		defer close(s.done)

		buf := make([]byte, 64*1024)
		for {
			n, err := s.conn.Read(buf)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
					monitoring.Logf("targetbus: read: %v", err)
				}
				return
			}

			raw := make([]byte, n)
			copy(raw, buf[:n])

			wire, err := track.Unmarshal(raw)
			if err != nil {
				monitoring.Logf("targetbus: discarding malformed datagram: %v", err)
				continue
			}

			s.latest.Store(&delivery{wire: wire, raw: raw})
		}
	}()
}

// Latest returns the newest received estimate without blocking. The raw
// payload is returned alongside the decoded form so callers can detect that
// they are re-reading an unchanged value. ok is false until the first
// datagram arrives.
func (s *Subscriber) Latest() (wire track.Wire, raw []byte, ok bool) {
	d := s.latest.Load()
	if d == nil {
		return track.Wire{}, nil, false
	}
	return d.wire, d.raw, true
}

// Close shuts the socket and waits for the receive goroutine to exit.
func (s *Subscriber) Close() error {
	err := s.conn.Close()
	if s.started {
		<-s.done
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
