package webfile

import (
	"bytes"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
)

// FFmpeg runs an external ffmpeg binary to remux downloaded segments into
// a single container file without re-encoding.
type FFmpeg struct {
	// Path is the ffmpeg binary; defaults to "ffmpeg" on PATH.
	Path string
	// Headers are passed to ffmpeg for any network inputs.
	Headers http.Header
}

// NewFFmpeg returns a runner using the ffmpeg binary from PATH.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{Path: "ffmpeg"}
}

func (f *FFmpeg) binary() string {
	if f.Path != "" {
		return f.Path
	}
	return "ffmpeg"
}

// headerArg flattens the configured headers into ffmpeg's -headers
// format, one "Key: Value" per CRLF-separated line.
func (f *FFmpeg) headerArg() string {
	var lines []string
	for k, vs := range f.Headers {
		for _, v := range vs {
			lines = append(lines, k+": "+v)
		}
	}
	return strings.Join(lines, "\r\n")
}

// Remux copies the streams of input (a local playlist or media file) into
// output. Failures surface as ErrTool with the tool's last output line.
func (f *FFmpeg) Remux(input, output string) error {
	args := []string{"-y", "-nostdin"}
	if len(f.Headers) > 0 {
		args = append(args, "-headers", f.headerArg())
	}
	args = append(args, "-i", input, "-c", "copy", output)

	cmd := exec.Command(f.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrTool, err, lastLine(stderr.String()))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
