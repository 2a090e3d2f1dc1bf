// Package carriage models the physical pan/tilt carriage: absolute aim
// position, axis limits, and the translation of move requests into protocol
// driver calls.
package carriage

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/dronefence/turret/internal/monitoring"
	"github.com/dronefence/turret/internal/uart"
)

// Driver is the slice of the protocol driver the carriage uses. Satisfied by
// *uart.Uart and by test fakes.
type Driver interface {
	SendRelative(dx, dy float64) uart.Transaction
	SendAbsolute(x, y float64) uart.Transaction
	Status() uart.Transaction
	Fire(on bool) uart.Transaction
	ExecStatus() bool
}

// Limits bounds each axis independently. A nil bound disables checking on
// that side of that axis; the X axis of a continuously rotating carriage is
// typically unbounded.
type Limits struct {
	MinX *float64 `json:"min_x"`
	MaxX *float64 `json:"max_x"`
	MinY *float64 `json:"min_y"`
	MaxY *float64 `json:"max_y"`
}

// Check returns an error naming the violated axis and bound when (x, y)
// falls outside the limits.
func (l Limits) Check(x, y float64) error {
	if l.MinX != nil && x < *l.MinX {
		return fmt.Errorf("x position %v below minimum %v", x, *l.MinX)
	}
	if l.MaxX != nil && x > *l.MaxX {
		return fmt.Errorf("x position %v above maximum %v", x, *l.MaxX)
	}
	if l.MinY != nil && y < *l.MinY {
		return fmt.Errorf("y position %v below minimum %v", y, *l.MinY)
	}
	if l.MaxY != nil && y > *l.MaxY {
		return fmt.Errorf("y position %v above maximum %v", y, *l.MaxY)
	}
	return nil
}

// Carriage tracks the carriage's absolute aim position. The local position
// is a cache: when the controller offers a STATUS readback the hardware's
// reported position wins.
//
// Methods are safe for concurrent use. The aiming loop moves the carriage
// while the web monitor reads its position; the mutex also keeps the driver
// transactions from interleaving on the single serial link.
type Carriage struct {
	driver Driver
	limits Limits

	mu   sync.Mutex
	x, y float64

	startX, startY float64

	executed bool
}

// New creates a carriage at the given initial position, normally the
// position loaded from the store at startup. The carriage does not
// self-calibrate at boot.
func New(driver Driver, limits Limits, x, y float64) *Carriage {
	return &Carriage{driver: driver, limits: limits, x: x, y: y}
}

// SetStartPosition configures the park position used by MoveToStart.
func (c *Carriage) SetStartPosition(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startX, c.startY = x, y
}

// MoveRelative moves the carriage by (dx, dy). The move is rejected in full
// when the resulting position would violate a limit on either axis: no
// partial or clamped motion, position unchanged.
func (c *Carriage) MoveRelative(dx, dy float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newX, newY := c.x+dx, c.y+dy
	if err := c.limits.Check(newX, newY); err != nil {
		monitoring.Logf("carriage: relative move (%v, %v) blocked: %v", dx, dy, err)
		return fmt.Errorf("relative move blocked: %w", err)
	}

	c.x, c.y = newX, newY
	tx := c.driver.SendRelative(dx, dy)
	c.executed = tx.Executed || c.driver.ExecStatus()
	return nil
}

// MoveToAbsolute moves the carriage to position (x, y), subject to the same
// all-or-nothing limit policy.
func (c *Carriage) MoveToAbsolute(x, y float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.limits.Check(x, y); err != nil {
		monitoring.Logf("carriage: absolute move to (%v, %v) blocked: %v", x, y, err)
		return fmt.Errorf("absolute move blocked: %w", err)
	}

	c.x, c.y = x, y
	tx := c.driver.SendAbsolute(x, y)
	c.executed = tx.Executed || c.driver.ExecStatus()
	return nil
}

// MoveToStart moves the carriage to its configured start position.
func (c *Carriage) MoveToStart() error {
	c.mu.Lock()
	x, y := c.startX, c.startY
	c.mu.Unlock()
	return c.MoveToAbsolute(x, y)
}

// Position returns the current absolute position, resynchronized from the
// controller's STATUS readback when one is available.
func (c *Carriage) Position() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := uart.ParseStatus(c.driver.Status())

	if xs, ok := status["X"]; ok {
		if x, err := strconv.ParseFloat(xs, 64); err == nil {
			c.x = x
		}
	}
	if ys, ok := status["Y"]; ok {
		if y, err := strconv.ParseFloat(ys, 64); err == nil {
			c.y = y
		}
	}

	return c.x, c.y
}

// Fire switches the fire-control relay.
func (c *Carriage) Fire(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := c.driver.Fire(on)
	if !tx.Executed && !c.driver.ExecStatus() {
		return fmt.Errorf("fire control command not confirmed")
	}
	return nil
}

// CommandExecuted reports whether the controller confirmed the most recent
// move.
func (c *Carriage) CommandExecuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

// Limits returns the configured axis limits.
func (c *Carriage) Limits() Limits {
	return c.limits
}
