package vision

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dronefence/turret/internal/monitoring"
)

// Capture decodes a camera stream in the background and keeps only the
// newest frame. Detection runs much slower than the stream's frame rate;
// holding a single latest frame keeps scans current instead of working
// through a backlog.
type Capture struct {
	source string
	cam    *gocv.VideoCapture

	mu     sync.Mutex
	latest gocv.Mat
	have   bool

	started bool
	done    chan struct{}
}

// OpenCapture opens a stream source: a plain integer selects a local device,
// anything else is treated as a URL or file path.
func OpenCapture(source string) (*Capture, error) {
	var cam *gocv.VideoCapture
	var err error

	if idx, convErr := strconv.Atoi(source); convErr == nil {
		cam, err = gocv.OpenVideoCapture(idx)
	} else {
		cam, err = gocv.VideoCaptureFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", source, err)
	}
	cam.Set(gocv.VideoCaptureBufferSize, 1)

	return &Capture{
		source: source,
		cam:    cam,
		latest: gocv.NewMat(),
		done:   make(chan struct{}),
	}, nil
}

// Start runs the decode loop until the context is cancelled. Empty or
// malformed frames are skipped; a dead stream ends the loop with a log line
// and later scans keep returning the last good frame.
func (c *Capture) Start(ctx context.Context) {
	c.started = true

	go func() {
		defer close(c.done)

		img := gocv.NewMat()
		defer img.Close()

		for ctx.Err() == nil {
			if ok := c.cam.Read(&img); !ok {
				monitoring.Logf("vision: stream %s ended", c.source)
				return
			}
			if img.Empty() {
				continue
			}

			c.mu.Lock()
			img.CopyTo(&c.latest)
			c.have = true
			c.mu.Unlock()
		}
	}()
}

// Latest clones the newest frame. The caller owns the returned Mat and must
// Close it. ok is false until the first frame has been decoded.
func (c *Capture) Latest() (gocv.Mat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.have {
		return gocv.Mat{}, false
	}
	return c.latest.Clone(), true
}

// Close releases the stream and the retained frame. Call only after the
// context driving Start has been cancelled; Close waits for the decode loop
// to finish its current read.
func (c *Capture) Close() error {
	if c.started {
		<-c.done
	}
	err := c.cam.Close()
	c.mu.Lock()
	c.latest.Close()
	c.have = false
	c.mu.Unlock()
	return err
}
