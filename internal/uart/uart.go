// Package uart drives the carriage actuator over a serial link with a
// synchronous-request, framed-response protocol.
//
// Commands are plain-text lines. The controller answers with zero or more
// lines; a move is confirmed by a line containing the TIME marker, a status
// query by the STATUS line itself. A read that produces no data means the
// controller has nothing more to say and leaves the transaction unconfirmed.
// Transport faults are logged and surfaced the same way, never escalated:
// callers check Executed (or ExecStatus for async submissions) before
// trusting that motion occurred.
package uart

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dronefence/turret/internal/monitoring"
)

const (
	// MoveTerminator ends the response to a move or zeroing command.
	MoveTerminator = "TIME"
	// StatusPrefix begins the sentinel line of a STATUS response.
	StatusPrefix = "STATUS"

	readTimeout = time.Second
)

// ExecutionMode selects how Send* calls run their transaction.
type ExecutionMode int

const (
	// Blocking runs the transaction on the caller's goroutine and returns
	// the completed transaction.
	Blocking ExecutionMode = iota
	// Async hands the transaction to the driver's single background worker
	// and returns immediately; callers poll ExecStatus.
	Async
)

// Transaction is one framed request/response exchange. It carries no state
// beyond the exchange itself.
type Transaction struct {
	Command    string
	Terminator string
	Lines      []string
	Executed   bool
}

// Uart owns one serial handle. At most one transaction is in flight on a
// handle at a time; async submissions are executed by a single worker in
// submission order, never a pool, so commands reach the actuator in the
// order they were issued.
type Uart struct {
	port Porter
	mode ExecutionMode

	txMu sync.Mutex // serializes transactions on the handle

	lastMu sync.Mutex
	last   Transaction

	jobs     chan pendingCommand
	workerWg sync.WaitGroup
	closed   chan struct{}
}

type pendingCommand struct {
	command    string
	terminator string
}

// New creates a driver over an open port. Async mode starts the background
// worker immediately.
func New(port Porter, mode ExecutionMode) *Uart {
	u := &Uart{
		port:   port,
		mode:   mode,
		jobs:   make(chan pendingCommand, 16),
		closed: make(chan struct{}),
	}
	if mode == Async {
		u.workerWg.Add(1)
		go u.worker()
	}
	return u
}

// Open opens the serial device at path and returns a driver over it.
func Open(path string, opts PortOptions, mode ExecutionMode) (*Uart, error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open carriage port %s: %w", path, err)
	}
	return New(port, mode), nil
}

// SendRelative issues a relative move of dx steps and dy degrees.
func (u *Uart) SendRelative(dx, dy float64) Transaction {
	return u.submit(fmt.Sprintf("XR%v YR%v", dx, dy), MoveTerminator)
}

// SendAbsolute issues an absolute move to position (x, y).
func (u *Uart) SendAbsolute(x, y float64) Transaction {
	return u.submit(fmt.Sprintf("XA%v YA%v", x, y), MoveTerminator)
}

// Status queries the controller. Status transactions always run blocking:
// the caller wants the response lines.
func (u *Uart) Status() Transaction {
	tx := u.transact("STATUS", StatusPrefix)
	u.setLast(tx)
	return tx
}

// Fire switches the fire-control relay.
func (u *Uart) Fire(on bool) Transaction {
	command := "FIRE:OFF"
	if on {
		command = "FIRE:ON"
	}
	return u.submit(command, "")
}

// ZeroX re-homes the continuous rotation axis.
func (u *Uart) ZeroX() Transaction {
	return u.submit("ZERO_X", MoveTerminator)
}

// ExecStatus reports whether the most recently completed transaction was
// confirmed by the controller. Async callers poll this after submitting.
func (u *Uart) ExecStatus() bool {
	u.lastMu.Lock()
	defer u.lastMu.Unlock()
	return u.last.Executed
}

// LastTransaction returns a copy of the most recently completed transaction.
func (u *Uart) LastTransaction() Transaction {
	u.lastMu.Lock()
	defer u.lastMu.Unlock()
	return u.last
}

// Close stops the async worker, letting any in-flight transaction finish,
// and closes the port.
func (u *Uart) Close() error {
	select {
	case <-u.closed:
		return nil
	default:
	}
	close(u.closed)
	u.workerWg.Wait()
	return u.port.Close()
}

func (u *Uart) submit(command, terminator string) Transaction {
	if u.mode == Blocking {
		tx := u.transact(command, terminator)
		u.setLast(tx)
		return tx
	}

	pending := Transaction{Command: command, Terminator: terminator}
	select {
	case u.jobs <- pendingCommand{command: command, terminator: terminator}:
	case <-u.closed:
		monitoring.Logf("uart: dropped %q: driver closed", command)
	default:
		// The worker is wedged behind slow transactions. Dropping keeps the
		// control loop alive; the caller sees an unconfirmed command.
		monitoring.Logf("uart: dropped %q: command queue full", command)
	}
	return pending
}

func (u *Uart) worker() {
	defer u.workerWg.Done()
	for {
		select {
		case job := <-u.jobs:
			tx := u.transact(job.command, job.terminator)
			u.setLast(tx)
		case <-u.closed:
			// Drain already-submitted commands so ordering holds through
			// shutdown, then stop.
			for {
				select {
				case job := <-u.jobs:
					tx := u.transact(job.command, job.terminator)
					u.setLast(tx)
				default:
					return
				}
			}
		}
	}
}

func (u *Uart) setLast(tx Transaction) {
	u.lastMu.Lock()
	u.last = tx
	u.lastMu.Unlock()
}

// transact writes one command line and collects response lines until the
// terminator appears, the port goes quiet, or the transport fails.
func (u *Uart) transact(command, terminator string) Transaction {
	u.txMu.Lock()
	defer u.txMu.Unlock()

	tx := Transaction{Command: command, Terminator: terminator}

	line := command
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := u.port.Write([]byte(line)); err != nil {
		monitoring.Logf("uart: write %q failed: %v", command, err)
		return tx
	}

	for {
		response, err := u.readLine()
		if err != nil {
			monitoring.Logf("uart: read after %q failed: %v", command, err)
			return tx
		}
		if response == "" {
			// Port went quiet without a terminator: assume no motion occurred.
			return tx
		}

		tx.Lines = append(tx.Lines, response)

		if terminator == "" || strings.Contains(response, terminator) {
			tx.Executed = true
			return tx
		}
	}
}

// readLine reads bytes until a newline or a timed-out (empty) read. The
// carriage link is low-rate, so byte-wise reads cost nothing and keep the
// timeout handling exact.
func (u *Uart) readLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := u.port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return strings.TrimSpace(string(line)), nil
		}
		if buf[0] == '\n' {
			return strings.TrimSpace(string(line)), nil
		}
		line = append(line, buf[0])
	}
}
