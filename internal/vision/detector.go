package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dronefence/turret/internal/geometry"
)

// inputSize is the square side the frame is resized to before inference.
const inputSize = 640

// NetDetector runs a YOLO-family ONNX model through OpenCV's DNN module.
// Safe for use from multiple scanners; inference is serialized.
type NetDetector struct {
	mu  sync.Mutex
	net gocv.Net
}

// OpenNetDetector loads the model once; all cameras share one detector.
func OpenNetDetector(modelPath string) (*NetDetector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load detection model %s: empty network", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &NetDetector{net: net}, nil
}

// Detect runs inference on a frame and returns detections of the profile's
// class in normalized coordinates. The frame is stretch-resized to the model
// input, so normalized output coordinates map straight back onto the frame.
func (d *NetDetector) Detect(frame gocv.Mat, profile Profile) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Rows of [cx cy w h objectness class scores...] in input pixels.
	rows := output.Total() / output.Size()[len(output.Size())-1]
	cols := output.Size()[len(output.Size())-1]
	flat, err := output.Reshape(1, rows)
	if err != nil {
		return nil, fmt.Errorf("reshape model output: %w", err)
	}
	defer flat.Close()

	var boxes []image.Rectangle
	var scores []float32
	var dets []Detection

	for i := 0; i < rows; i++ {
		objectness := flat.GetFloatAt(i, 4)
		if float64(objectness) < profile.Confidence {
			continue
		}

		classID := 0
		best := float32(0)
		for j := 5; j < cols; j++ {
			if s := flat.GetFloatAt(i, j); s > best {
				best = s
				classID = j - 5
			}
		}
		confidence := float64(objectness) * float64(best)
		if classID != profile.Class || confidence < profile.Confidence {
			continue
		}

		cx := float64(flat.GetFloatAt(i, 0)) / inputSize
		cy := float64(flat.GetFloatAt(i, 1)) / inputSize
		w := float64(flat.GetFloatAt(i, 2)) / inputSize
		h := float64(flat.GetFloatAt(i, 3)) / inputSize

		left := int((cx - w/2) * inputSize)
		top := int((cy - h/2) * inputSize)
		boxes = append(boxes, image.Rect(left, top, left+int(w*inputSize), top+int(h*inputSize)))
		scores = append(scores, float32(confidence))
		dets = append(dets, Detection{
			Class:      classID,
			Confidence: confidence,
			Box:        geometry.BBox{X: cx, Y: cy, W: w, H: h},
		})
	}

	if len(dets) == 0 {
		return nil, nil
	}

	kept := gocv.NMSBoxes(boxes, scores, float32(profile.Confidence), float32(profile.NMS))
	out := make([]Detection, 0, len(kept))
	for _, idx := range kept {
		out = append(out, dets[idx])
	}
	return out, nil
}

// Close releases the network.
func (d *NetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// CameraScanner couples one capture stream with the shared detector.
type CameraScanner struct {
	capture  *Capture
	detector *NetDetector
}

// NewCameraScanner wires a capture to a detector. The scanner does not own
// the detector; Close releases the capture only.
func NewCameraScanner(capture *Capture, detector *NetDetector) *CameraScanner {
	return &CameraScanner{capture: capture, detector: detector}
}

// Scan runs detection on the newest decoded frame.
func (s *CameraScanner) Scan(profile Profile) ([]Detection, error) {
	frame, ok := s.capture.Latest()
	if !ok {
		return nil, ErrNoFrame
	}
	defer frame.Close()
	return s.detector.Detect(frame, profile)
}

// Close releases the underlying capture.
func (s *CameraScanner) Close() error {
	return s.capture.Close()
}
