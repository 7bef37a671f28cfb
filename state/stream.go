package state

import (
	"context"
	"fmt"
	"io"
)

const Boundary = "frame"

// ContentType is the multipart type announced to MJPEG clients.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// WritePart writes one MJPEG part.
func WritePart(w io.Writer, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// WriteStream copies published frames to w as MJPEG parts until ctx is done,
// the state closes or a write fails. flush, when set, runs after each part.
func (s *State) WriteStream(ctx context.Context, w io.Writer, flush func()) error {
	for jpg := range s.Stream(ctx) {
		if err := WritePart(w, jpg); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
	}
	return ctx.Err()
}
