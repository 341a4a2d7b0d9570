package webfile

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFFmpegHeaderArg(t *testing.T) {
	f := NewFFmpeg()
	assert.Equal(t, "", f.headerArg())

	f.Headers = http.Header{}
	f.Headers.Set("Referer", "https://example.com/")
	assert.Equal(t, "Referer: https://example.com/", f.headerArg())

	f.Headers.Add("Cookie", "a=1")
	arg := f.headerArg()
	assert.Contains(t, strings.Split(arg, "\r\n"), "Referer: https://example.com/")
	assert.Contains(t, strings.Split(arg, "\r\n"), "Cookie: a=1")
}

func TestFFmpegMissingBinary(t *testing.T) {
	f := &FFmpeg{Path: "/nonexistent/ffmpeg"}
	err := f.Remux("in.m3u8", "out.mp4")
	assert.ErrorIs(t, err, ErrTool)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "", lastLine(""))
	assert.Equal(t, "only", lastLine("only"))
	assert.Equal(t, "tail", lastLine("head\nmiddle\ntail\n"))
}
