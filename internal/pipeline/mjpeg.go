package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// MJPEGSource pulls frames from an MJPEG-over-HTTP camera stream, the common
// denominator for IP cameras and restreamers. USB and RTSP cameras are
// expected to be fronted by a restreamer that speaks MJPEG.
type MJPEGSource struct {
	uri    string
	client *http.Client

	resp   *http.Response
	reader *multipart.Reader
}

// NewMJPEGSource creates a source for the given stream URI. The connection is
// established lazily on the first Next call so construction never blocks.
func NewMJPEGSource(uri string) *MJPEGSource {
	return &MJPEGSource{
		uri: uri,
		client: &http.Client{
			// Connect timeout only; the stream itself is long-lived.
			Transport: &http.Transport{ResponseHeaderTimeout: 10 * time.Second},
		},
	}
}

func (s *MJPEGSource) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.uri, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream %s: %w", s.uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream %s returned status %d", s.uri, resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		return fmt.Errorf("stream %s is not multipart MJPEG (got %q)", s.uri, resp.Header.Get("Content-Type"))
	}

	s.resp = resp
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	return nil
}

// Next returns the next decoded frame, connecting or reconnecting as needed.
func (s *MJPEGSource) Next(ctx context.Context) (image.Image, error) {
	if s.reader == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}

	part, err := s.reader.NextPart()
	if err != nil {
		// Stream broke; drop the connection so the next call redials.
		s.teardown()
		return nil, fmt.Errorf("stream %s interrupted: %w", s.uri, err)
	}
	defer part.Close()

	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

func (s *MJPEGSource) teardown() {
	if s.resp != nil {
		s.resp.Body.Close()
	}
	s.resp = nil
	s.reader = nil
}

// Close implements FrameSource.
func (s *MJPEGSource) Close() error {
	s.teardown()
	return nil
}
