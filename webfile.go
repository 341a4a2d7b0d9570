package webfile

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// downloadChunkSize is the buffer size used by sequential downloads.
const downloadChunkSize = 32 * 1024

// RangeReader is the capability shared by WebFile, CachedWebFile and
// HlsFile: a seekable byte stream whose total size may be unknown.
type RangeReader interface {
	io.Reader
	io.Seeker
	// Size returns the total length in bytes, or -1 when the server never
	// reported a usable length.
	Size() (int64, error)
}

// WebFile is a single HTTP(S)-addressable byte stream with range-read
// support. Metadata (size, filename, range support) is discovered lazily
// from response headers on first access. A seek to a new offset closes the
// current connection; a fresh ranged request is issued on the next read,
// since the transport cannot rewind in-stream.
type WebFile struct {
	url    string
	client *Client
	log    zerolog.Logger

	directory  string
	filename   string
	filestem   string
	filesuffix string

	pos  int64
	resp *http.Response

	metaLoaded   bool
	size         int64
	hasSize      bool
	acceptRanges bool
	metaFilename string
	contentType  string
}

var _ RangeReader = (*WebFile)(nil)

// NewWebFile returns a WebFile for url. No network access happens until
// the first read or metadata query.
func NewWebFile(url string, opts ...Option) *WebFile {
	cfg := newConfig(opts)
	f := &WebFile{
		url:        url,
		client:     cfg.client,
		directory:  cfg.directory,
		filename:   cfg.filename,
		filestem:   cfg.filestem,
		filesuffix: cfg.filesuffix,
	}
	if cfg.logger != nil {
		f.log = *cfg.logger
	} else {
		f.log = componentLogger("webfile", url)
	}
	return f
}

// URL returns the resource URL.
func (f *WebFile) URL() string {
	return f.url
}

// SetURL points the WebFile at a different resource, discarding all cached
// metadata and resetting the position to 0.
func (f *WebFile) SetURL(url string) {
	f.closeStream()
	f.url = url
	f.pos = 0
	f.metaLoaded = false
	f.size = 0
	f.hasSize = false
	f.acceptRanges = false
	f.metaFilename = ""
	f.contentType = ""
	f.log = componentLogger("webfile", url)
}

var dispositionFilename = regexp.MustCompile(`filename="?([^"]+)"?`)

// captureHeaders records size, range support and naming metadata from a
// response. A 206 proves range support and carries the total size in
// Content-Range; anything else relies on Accept-Ranges/Content-Length.
func (f *WebFile) captureHeaders(resp *http.Response) {
	f.metaLoaded = true

	if resp.StatusCode == http.StatusPartialContent {
		f.acceptRanges = true
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok && !f.hasSize {
			f.size = total
			f.hasSize = true
		}
	} else {
		if strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes") {
			f.acceptRanges = true
		}
		if !f.hasSize && resp.ContentLength >= 0 {
			f.size = resp.ContentLength
			f.hasSize = true
		}
	}

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if m := dispositionFilename.FindStringSubmatch(cd); m != nil {
			f.metaFilename = m[1]
		}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		f.contentType = ct
	}
}

// contentRangeTotal parses the total length out of a "bytes N-M/T" header.
func contentRangeTotal(cr string) (int64, bool) {
	idx := strings.LastIndexByte(cr, '/')
	if idx < 0 {
		return 0, false
	}
	total, err := strconv.ParseInt(cr[idx+1:], 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

// open issues a request positioned at the current offset, if no stream is
// open yet.
func (f *WebFile) open() error {
	if f.resp != nil {
		return nil
	}

	f.log.Debug().Int64("offset", f.pos).Msg("opening stream")
	resp, err := f.client.get(f.url, f.pos)
	if err != nil {
		return err
	}
	f.captureHeaders(resp)
	if resp.StatusCode != http.StatusPartialContent && f.pos != 0 {
		// server ignored the range directive
		resp.Body.Close()
		return ErrRangeNotSupported
	}
	f.resp = resp
	return nil
}

// ensureMeta discovers response metadata through a HEAD probe, falling
// back to opening a regular stream for servers that reject HEAD (some
// won't allow it, e.g. signed S3 urls).
func (f *WebFile) ensureMeta() error {
	if f.metaLoaded {
		return nil
	}

	resp, err := f.client.head(f.url)
	if err == nil {
		f.captureHeaders(resp)
		resp.Body.Close()
		return nil
	}

	var se *StatusError
	if errors.As(err, &se) && se.Code != http.StatusNotFound && se.Code != http.StatusGone {
		return f.open()
	}
	return err
}

func (f *WebFile) closeStream() {
	if f.resp != nil {
		f.resp.Body.Close()
		f.resp = nil
	}
}

// rewind resets the position to 0 without the range-support checks Seek
// performs; reopening at offset 0 needs no range directive.
func (f *WebFile) rewind() {
	f.closeStream()
	f.pos = 0
}

// Size returns the total length of the resource, or -1 if the server
// never reported one. The first call may issue a request.
func (f *WebFile) Size() (int64, error) {
	if err := f.ensureMeta(); err != nil {
		return 0, err
	}
	if !f.hasSize {
		return -1, nil
	}
	return f.size, nil
}

// Seek repositions the stream. Offsets outside [0, size) raise ErrSeek;
// if the server does not advertise range support, any reposition raises
// ErrRangeNotSupported. A seek to the current position is a no-op;
// otherwise the connection is closed and reopened on the next read.
func (f *WebFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.pos + offset
	case io.SeekEnd:
		size, err := f.Size()
		if err != nil {
			return f.pos, err
		}
		if size < 0 {
			return f.pos, fmt.Errorf("%w: size unknown, cannot seek from end", ErrSeek)
		}
		abs = size + offset
	default:
		return f.pos, fmt.Errorf("%w: invalid whence %d", ErrSeek, whence)
	}

	if abs == f.pos {
		return abs, nil
	}

	size, err := f.Size()
	if err != nil {
		return f.pos, err
	}
	if abs < 0 || (size >= 0 && abs >= size) {
		return f.pos, fmt.Errorf("%w: %d is out of range 0-%d", ErrSeek, abs, size-1)
	}
	if !f.acceptRanges {
		return f.pos, ErrRangeNotSupported
	}

	f.log.Debug().Int64("offset", abs).Msg("seek")
	f.closeStream()
	f.pos = abs
	return abs, nil
}

// Read pulls bytes from the current position, opening a ranged request if
// no stream is open. Advances the position by the bytes returned.
func (f *WebFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if f.hasSize && f.pos >= f.size {
		return 0, io.EOF
	}
	if err := f.open(); err != nil {
		return 0, err
	}

	n, err := f.resp.Body.Read(p)
	f.pos += int64(n)
	if err != nil {
		f.closeStream()
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, transportError(err)
	}
	return n, nil
}

// Reload drops the current connection and reopens at the same offset.
func (f *WebFile) Reload() error {
	f.log.Debug().Msg("reloading")
	f.closeStream()
	return f.open()
}

// Exists probes the resource, resolving the client error class (404 and
// friends) to false instead of an error.
func (f *WebFile) Exists() (bool, error) {
	if err := f.ensureMeta(); err != nil {
		if errors.Is(err, ErrClient) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// remoteFilename returns the name declared in Content-Disposition, or the
// last element of the URL path. Metadata errors fall back to the URL.
func (f *WebFile) remoteFilename() string {
	if err := f.ensureMeta(); err != nil {
		f.log.Debug().Err(err).Msg("metadata unavailable, using url filename")
	}
	if f.metaFilename != "" {
		return f.metaFilename
	}
	return urlFilename(f.url)
}

// Filestem returns the local file name without its suffix.
func (f *WebFile) Filestem() string {
	if f.filestem != "" {
		return f.filestem
	}
	if f.filename != "" {
		return stemOf(f.filename)
	}
	return stemOf(f.remoteFilename())
}

// Filesuffix returns the local file suffix, guessed from the remote name
// or the Content-Type when the name carries no extension.
func (f *WebFile) Filesuffix() string {
	if f.filesuffix != "" {
		return f.filesuffix
	}
	if f.filename != "" {
		return path.Ext(f.filename)
	}
	if ext := path.Ext(f.remoteFilename()); ext != "" {
		return ext
	}
	if f.contentType != "" {
		if mt, _, err := mime.ParseMediaType(f.contentType); err == nil {
			if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
				return exts[0]
			}
		}
	}
	return ""
}

// Filename returns the local file name downloads are saved under.
func (f *WebFile) Filename() string {
	if f.filename != "" {
		return f.filename
	}
	return f.Filestem() + f.Filesuffix()
}

// Path returns the local path of the final artifact.
func (f *WebFile) Path() string {
	return filepath.Join(f.directory, f.Filename())
}

// stagingPath is the in-flight single-shot download file.
func (f *WebFile) stagingPath() string {
	return f.Path() + ".part"
}

// Download saves the resource to its local path, resuming a previous
// partial download when possible. Already-downloaded files are left
// untouched without any network request. Transient failures, size
// mismatches and stale partials are retried per the client retry policy.
func (f *WebFile) Download() (string, error) {
	target := f.Path()
	if _, err := os.Stat(target); err == nil {
		f.log.Warn().Str("path", target).Msg("already downloaded")
		return target, nil
	}
	if err := os.MkdirAll(f.directory, 0o755); err != nil {
		return "", err
	}

	f.log.Info().Str("path", target).Msg("downloading")

	size, err := f.Size()
	if err != nil {
		return "", err
	}
	if size < 0 {
		// length unknown: stream to the end, nothing to resume or verify
		if err := f.streamTo(target); err != nil {
			return "", err
		}
		return target, nil
	}

	err = f.client.Retry.Do(func() error {
		return f.downloadOnce(target, size)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

func (f *WebFile) downloadOnce(target string, size int64) error {
	staging := target + ".part"

	var start int64
	if fi, err := os.Stat(staging); err == nil {
		start = fi.Size()
	}

	switch {
	case start == size:
		// previous run fetched everything but did not finalize
		return f.finalize(staging, target, size)
	case start > 0:
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			if errors.Is(err, ErrSeek) {
				f.log.Warn().Err(err).Msg("cannot resume, removing partial file")
				os.Remove(staging)
				f.rewind()
				return fmt.Errorf("%w: resume seek to %d rejected", ErrStalePart, start)
			}
			return err
		}
	default:
		f.rewind()
	}

	out, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return err
	}

	bar := newByteProgress(size, start, f.Filename())
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return werr
			}
			bar.Add64(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			var se *StatusError
			if errors.As(rerr, &se) && se.Code == http.StatusRequestedRangeNotSatisfiable {
				f.log.Warn().Msg("range not satisfiable, removing partial file")
				os.Remove(staging)
				f.rewind()
				return fmt.Errorf("%w: range not satisfiable", ErrStalePart)
			}
			return rerr
		}
	}
	bar.Finish()
	if err := out.Close(); err != nil {
		return err
	}

	return f.finalize(staging, target, size)
}

// finalize verifies the staged size against the declared one, then moves
// the staging file into place.
func (f *WebFile) finalize(staging, target string, size int64) error {
	fi, err := os.Stat(staging)
	if err != nil {
		return err
	}
	if fi.Size() > size {
		os.Remove(staging)
		return fmt.Errorf("%w: downloaded %d bytes, expected %d (removed)", ErrSizeMismatch, fi.Size(), size)
	}
	if fi.Size() < size {
		return fmt.Errorf("%w: downloaded %d bytes, expected %d", ErrSizeMismatch, fi.Size(), size)
	}
	return os.Rename(staging, target)
}

// streamTo downloads a resource of unknown length from the start.
func (f *WebFile) streamTo(target string) error {
	staging := target + ".part"
	f.rewind()

	out, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}

	bar := newByteProgress(-1, 0, f.Filename())
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return werr
			}
			bar.Add64(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return rerr
		}
	}
	bar.Finish()
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(staging, target)
}

// Unlink removes the final file and any staging file. Missing files are
// not an error.
func (f *WebFile) Unlink() error {
	var firstErr error
	for _, p := range []string{f.Path(), f.stagingPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
