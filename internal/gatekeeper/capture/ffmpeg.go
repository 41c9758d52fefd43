package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// FFmpegGrabber pulls single frames from RTSP streams by running
// ffmpeg.  One process per grab keeps a wedged stream from poisoning
// later captures.
type FFmpegGrabber struct {
	binary  string
	timeout time.Duration
}

func NewFFmpegGrabber(timeout time.Duration) *FFmpegGrabber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FFmpegGrabber{binary: "ffmpeg", timeout: timeout}
}

func (g *FFmpegGrabber) Grab(ctx context.Context, streamURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var out, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, g.binary,
		"-rtsp_transport", "tcp",
		"-i", streamURL,
		"-frames:v", "1",
		"-f", "image2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg grab: %w (%s)", err, bytes.TrimSpace(errBuf.Bytes()))
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg grab: empty frame from %s", streamURL)
	}
	return out.Bytes(), nil
}
