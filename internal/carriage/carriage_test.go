package carriage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronefence/turret/internal/uart"
)

func ptr(v float64) *float64 { return &v }

// fakeDriver records protocol calls and returns scripted transactions.
type fakeDriver struct {
	relatives  [][2]float64
	absolutes  [][2]float64
	fires      []bool
	statusTx   uart.Transaction
	confirmAll bool
}

func (f *fakeDriver) SendRelative(dx, dy float64) uart.Transaction {
	f.relatives = append(f.relatives, [2]float64{dx, dy})
	return uart.Transaction{Executed: f.confirmAll}
}

func (f *fakeDriver) SendAbsolute(x, y float64) uart.Transaction {
	f.absolutes = append(f.absolutes, [2]float64{x, y})
	return uart.Transaction{Executed: f.confirmAll}
}

func (f *fakeDriver) Status() uart.Transaction {
	return f.statusTx
}

func (f *fakeDriver) Fire(on bool) uart.Transaction {
	f.fires = append(f.fires, on)
	return uart.Transaction{Executed: f.confirmAll}
}

func (f *fakeDriver) ExecStatus() bool { return f.confirmAll }

func TestMoveRelativeWithinLimits(t *testing.T) {
	driver := &fakeDriver{confirmAll: true}
	c := New(driver, Limits{MinY: ptr(90.0), MaxY: ptr(140.0)}, 100, 119)

	require.NoError(t, c.MoveRelative(25, -10))

	x, y := c.x, c.y
	assert.Equal(t, 125.0, x)
	assert.Equal(t, 109.0, y)
	assert.Equal(t, [][2]float64{{25, -10}}, driver.relatives)
	assert.True(t, c.CommandExecuted())
}

func TestMoveRelativeRejectedLeavesPositionUnchanged(t *testing.T) {
	driver := &fakeDriver{confirmAll: true}
	c := New(driver, Limits{MinY: ptr(90.0), MaxY: ptr(140.0)}, 100, 139)

	err := c.MoveRelative(0, 5) // would land at y=144, above max

	require.Error(t, err)
	assert.Equal(t, 100.0, c.x)
	assert.Equal(t, 139.0, c.y)
	assert.Empty(t, driver.relatives, "rejected move must not reach the driver")
}

func TestMoveAbsoluteRejectionIsAtomic(t *testing.T) {
	driver := &fakeDriver{confirmAll: true}
	c := New(driver, Limits{MinX: ptr(0.0), MaxX: ptr(4000.0), MinY: ptr(90.0), MaxY: ptr(140.0)}, 100, 119)

	// X is fine, Y violates: the whole move is rejected.
	err := c.MoveToAbsolute(200, 150)

	require.Error(t, err)
	assert.Equal(t, 100.0, c.x)
	assert.Equal(t, 119.0, c.y)
	assert.Empty(t, driver.absolutes)
}

func TestMoveAbsoluteWithinLimits(t *testing.T) {
	driver := &fakeDriver{confirmAll: true}
	c := New(driver, Limits{}, 0, 0)

	require.NoError(t, c.MoveToAbsolute(140, 119))

	assert.Equal(t, 140.0, c.x)
	assert.Equal(t, 119.0, c.y)
	assert.Equal(t, [][2]float64{{140, 119}}, driver.absolutes)
}

func TestUnboundedAxisSkipsCheck(t *testing.T) {
	driver := &fakeDriver{confirmAll: true}
	// X unbounded (continuous rotation), Y bounded.
	c := New(driver, Limits{MinY: ptr(90.0), MaxY: ptr(140.0)}, 0, 119)

	require.NoError(t, c.MoveRelative(100000, 0))
	assert.Equal(t, 100000.0, c.x)
}

func TestLimitsCheckNamesAxis(t *testing.T) {
	l := Limits{MinX: ptr(0.0), MaxY: ptr(140.0)}

	err := l.Check(-1, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x position")

	err = l.Check(10, 141)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "y position")
}

func TestPositionResyncsFromStatus(t *testing.T) {
	driver := &fakeDriver{
		statusTx: uart.Transaction{
			Lines:    []string{"STATUS X:1400 Y:119.5"},
			Executed: true,
		},
	}
	c := New(driver, Limits{}, 0, 0)

	x, y := c.Position()
	assert.Equal(t, 1400.0, x)
	assert.Equal(t, 119.5, y)
}

func TestPositionKeepsCacheWithoutReadback(t *testing.T) {
	driver := &fakeDriver{statusTx: uart.Transaction{}}
	c := New(driver, Limits{}, 42, 7)

	x, y := c.Position()
	assert.Equal(t, 42.0, x)
	assert.Equal(t, 7.0, y)
}

func TestPositionSafeDuringMoves(t *testing.T) {
	driver := &fakeDriver{confirmAll: true}
	c := New(driver, Limits{}, 0, 0)

	// The aiming loop moves while the web monitor polls the position.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, c.MoveRelative(1, 0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.Position()
			c.CommandExecuted()
		}
	}()
	wg.Wait()

	x, y := c.Position()
	assert.Equal(t, 200.0, x)
	assert.Equal(t, 0.0, y)
}

func TestMoveToStart(t *testing.T) {
	driver := &fakeDriver{confirmAll: true}
	c := New(driver, Limits{}, 0, 0)
	c.SetStartPosition(10, 119)

	require.NoError(t, c.MoveToStart())
	assert.Equal(t, [][2]float64{{10, 119}}, driver.absolutes)
}

func TestFireUnconfirmedReturnsError(t *testing.T) {
	driver := &fakeDriver{confirmAll: false}
	c := New(driver, Limits{}, 0, 0)

	assert.Error(t, c.Fire(true))
	assert.Equal(t, []bool{true}, driver.fires)
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(t.TempDir() + "/carriage.db")
	require.NoError(t, err)
	defer store.Close()

	_, _, ok, err := store.LoadPosition()
	require.NoError(t, err)
	assert.False(t, ok, "fresh store should have no position")

	require.NoError(t, store.SavePosition(1400.5, 119))

	x, y, ok, err := store.LoadPosition()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1400.5, x)
	assert.Equal(t, 119.0, y)

	// Saving again overwrites rather than duplicating.
	require.NoError(t, store.SavePosition(0, 90))
	x, y, _, err = store.LoadPosition()
	require.NoError(t, err)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 90.0, y)
}

func TestStoreLimitsRoundTrip(t *testing.T) {
	store, err := OpenStore(t.TempDir() + "/carriage.db")
	require.NoError(t, err)
	defer store.Close()

	limits, err := store.LoadLimits()
	require.NoError(t, err)
	assert.Nil(t, limits.MinX)

	require.NoError(t, store.SaveLimits(Limits{MinY: ptr(90.0), MaxY: ptr(140.0)}))

	limits, err = store.LoadLimits()
	require.NoError(t, err)
	assert.Nil(t, limits.MinX, "x axis stays unbounded")
	require.NotNil(t, limits.MinY)
	require.NotNil(t, limits.MaxY)
	assert.Equal(t, 90.0, *limits.MinY)
	assert.Equal(t, 140.0, *limits.MaxY)
}
