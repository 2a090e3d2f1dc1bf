package uart

import (
	"bytes"
	"errors"
	"sync"
)

// TestablePort implements Porter with scripted reads and captured writes.
// An empty read buffer behaves like a serial read timeout: Read returns
// (0, nil), which the driver interprets as "no more data".
type TestablePort struct {
	mu sync.Mutex

	readBuffer  bytes.Buffer
	writeBuffer bytes.Buffer

	// ReadError is returned by the next Read call if set, then cleared.
	ReadError error

	// WriteError is returned by the next Write call if set, then cleared.
	WriteError error

	// Closed indicates whether Close was called.
	Closed bool

	// WriteCalls records the number of Write calls.
	WriteCalls int
}

// NewTestablePort creates a port scripted with the given response data.
func NewTestablePort(response string) *TestablePort {
	p := &TestablePort{}
	p.readBuffer.WriteString(response)
	return p
}

// Read returns scripted data, or (0, nil) when the script is exhausted.
func (p *TestablePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errors.New("port closed")
	}
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	if p.readBuffer.Len() == 0 {
		return 0, nil
	}
	return p.readBuffer.Read(buf)
}

// Write captures data written to the port.
func (p *TestablePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.WriteCalls++
	if p.Closed {
		return 0, errors.New("port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	return p.writeBuffer.Write(data)
}

// Close marks the port as closed.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// AddResponse appends data to be returned by subsequent Read calls.
func (p *TestablePort) AddResponse(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuffer.WriteString(data)
}

// Written returns all data written to the port so far.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuffer.String()
}
