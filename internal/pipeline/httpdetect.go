package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/ashgrove-care/carewatch/internal/vision"
)

// HTTPDetector sends frames to an external inference service and parses the
// person detections it returns. Keeping the model out of process means model
// upgrades never touch this service.
type HTTPDetector struct {
	url    string
	client *http.Client

	// MinConfidence filters weak detections before they reach the tracker.
	MinConfidence float64
}

// NewHTTPDetector creates a detector posting JPEG frames to url.
func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{
		url:           url,
		client:        &http.Client{Timeout: 5 * time.Second},
		MinConfidence: 0.5,
	}
}

// wireDetection is the inference service's response element.
type wireDetection struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// Detect implements Detector.
func (d *HTTPDetector) Detect(ctx context.Context, frame image.Image) ([]vision.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}

	var wire []wireDetection
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to parse inference response: %w", err)
	}

	detections := []vision.Detection{}
	for _, wd := range wire {
		if wd.Label != "" && wd.Label != "person" {
			continue
		}
		if wd.Confidence < d.MinConfidence {
			continue
		}
		detections = append(detections, vision.Detection{
			ID:         vision.UnassignedID,
			Box:        vision.Rect{X: wd.X, Y: wd.Y, W: wd.W, H: wd.H},
			Confidence: wd.Confidence,
		})
	}
	return detections, nil
}
