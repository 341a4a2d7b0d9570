package webfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/renameio/v2"
	"github.com/grafov/m3u8"
	"github.com/rs/zerolog"
)

// Segment is one media segment of a resolved HLS playlist.
type Segment struct {
	URI      string
	Duration float64
}

// HlsFile presents the ordered segments of an HLS stream as one seekable
// virtual file. The playlist is resolved once per URL; when it lists
// variant streams the highest-bandwidth one is selected, following at
// most one level of indirection. Per-segment WebFiles are built lazily
// and memoized, at most once per index.
type HlsFile struct {
	url    string
	client *Client
	log    zerolog.Logger

	directory  string
	filename   string
	filestem   string
	filesuffix string
	remuxer    *FFmpeg

	pos int64

	resolved bool
	segments []Segment
	files    []*WebFile
}

var _ RangeReader = (*HlsFile)(nil)

// NewHlsFile returns an HlsFile for a playlist URL. The playlist is not
// fetched until the first operation that needs it.
func NewHlsFile(url string, opts ...Option) *HlsFile {
	cfg := newConfig(opts)
	return &HlsFile{
		url:        url,
		client:     cfg.client,
		log:        componentLogger("hlsfile", url),
		directory:  cfg.directory,
		filename:   cfg.filename,
		filestem:   cfg.filestem,
		filesuffix: cfg.filesuffix,
		remuxer:    cfg.remuxer,
	}
}

// URL returns the playlist URL.
func (h *HlsFile) URL() string {
	return h.url
}

// SetURL points at a different stream, invalidating the resolved segment
// list.
func (h *HlsFile) SetURL(u string) {
	h.closeSegments()
	h.url = u
	h.pos = 0
	h.resolved = false
	h.segments = nil
	h.files = nil
	h.log = componentLogger("hlsfile", u)
}

// resolve fetches the playlist and builds the ordered segment list. A
// master playlist is followed once, into its highest-bandwidth variant.
func (h *HlsFile) resolve() error {
	if h.resolved {
		return nil
	}

	segs, err := h.fetchPlaylist(h.url, true)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("%w: playlist has no segments", ErrClient)
	}

	h.segments = segs
	h.files = make([]*WebFile, len(segs))
	h.resolved = true
	h.log.Debug().Int("segments", len(segs)).Msg("playlist resolved")
	return nil
}

func (h *HlsFile) fetchPlaylist(playlistURL string, followVariants bool) ([]Segment, error) {
	data, err := h.client.fetch(playlistURL)
	if err != nil {
		return nil, err
	}

	pl, listType, err := m3u8.Decode(*bytes.NewBuffer(data), true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid playlist: %v", ErrClient, err)
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClient, err)
	}

	switch listType {
	case m3u8.MASTER:
		if !followVariants {
			return nil, fmt.Errorf("%w: variant playlist points to further variants", ErrClient)
		}
		master := pl.(*m3u8.MasterPlaylist)
		var best *m3u8.Variant
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			if best == nil || v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		if best == nil {
			return nil, fmt.Errorf("%w: master playlist has no variants", ErrClient)
		}
		variantURL, err := resolveURI(base, best.URI)
		if err != nil {
			return nil, err
		}
		h.log.Debug().Str("variant", variantURL).Uint32("bandwidth", best.Bandwidth).Msg("selected variant")
		return h.fetchPlaylist(variantURL, false)

	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		var segs []Segment
		for _, s := range media.Segments {
			if s == nil {
				continue
			}
			abs, err := resolveURI(base, s.URI)
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{URI: abs, Duration: s.Duration})
		}
		return segs, nil

	default:
		return nil, fmt.Errorf("%w: unrecognized playlist type", ErrClient)
	}
}

func resolveURI(base *url.URL, uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: invalid segment uri: %v", ErrClient, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Segments returns the resolved segment list, fetching the playlist on
// first use.
func (h *HlsFile) Segments() ([]Segment, error) {
	if err := h.resolve(); err != nil {
		return nil, err
	}
	return h.segments, nil
}

// segment returns the WebFile for segment index i, constructing it on
// first access.
func (h *HlsFile) segment(i int) *WebFile {
	if h.files[i] == nil {
		h.files[i] = NewWebFile(h.segments[i].URI,
			WithClient(h.client),
			WithDirectory(h.tempDirectory()),
		)
	}
	return h.files[i]
}

// Size returns the total byte length of the stream, probing each
// segment's size once. Returns -1 if any segment's length is unknown.
func (h *HlsFile) Size() (int64, error) {
	if err := h.resolve(); err != nil {
		return 0, err
	}

	var total int64
	for i := range h.segments {
		sz, err := h.segment(i).Size()
		if err != nil {
			return 0, err
		}
		if sz < 0 {
			return -1, nil
		}
		total += sz
	}
	return total, nil
}

// Seek updates the global logical position. No I/O is triggered.
func (h *HlsFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return h.pos, fmt.Errorf("%w: negative offset %d", ErrSeek, offset)
		}
		h.pos = offset
	case io.SeekCurrent:
		if h.pos+offset < 0 {
			return h.pos, fmt.Errorf("%w: negative offset %d", ErrSeek, h.pos+offset)
		}
		h.pos += offset
	case io.SeekEnd:
		size, err := h.Size()
		if err != nil {
			return h.pos, err
		}
		if size < 0 {
			return h.pos, fmt.Errorf("%w: size unknown, cannot seek from end", ErrSeek)
		}
		if size+offset < 0 {
			return h.pos, fmt.Errorf("%w: negative offset %d", ErrSeek, size+offset)
		}
		h.pos = size + offset
	default:
		return h.pos, fmt.Errorf("%w: invalid whence %d", ErrSeek, whence)
	}
	return h.pos, nil
}

// Read walks the segments in playlist order, skipping whole segments that
// lie before the global position, then reads across segment boundaries
// until p is full or the stream ends.
func (h *HlsFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := h.resolve(); err != nil {
		return 0, err
	}

	skip := h.pos
	n := 0
	for i := range h.segments {
		if n == len(p) {
			break
		}

		wf := h.segment(i)
		size, err := wf.Size()
		if err != nil {
			return n, err
		}
		if size < 0 {
			return n, fmt.Errorf("%w: segment %d has unknown size", ErrSeek, i)
		}
		if skip >= size {
			skip -= size
			continue
		}

		if _, err := wf.Seek(skip, io.SeekStart); err != nil {
			return n, err
		}
		skip = 0

		for n < len(p) {
			k, err := wf.Read(p[n:])
			n += k
			if err == io.EOF {
				break
			}
			if err != nil {
				return n, err
			}
		}
	}

	h.pos += int64(n)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Filestem returns the local file name without its suffix.
func (h *HlsFile) Filestem() string {
	if h.filestem != "" {
		return h.filestem
	}
	if h.filename != "" {
		return stemOf(h.filename)
	}
	return stemOf(urlFilename(h.url))
}

// Filesuffix returns the local file suffix; HLS downloads default to an
// mp4 container.
func (h *HlsFile) Filesuffix() string {
	if h.filesuffix != "" {
		return h.filesuffix
	}
	if h.filename != "" {
		return filepath.Ext(h.filename)
	}
	return ".mp4"
}

// Filename returns the local file name the stream is saved under.
func (h *HlsFile) Filename() string {
	if h.filename != "" {
		return h.filename
	}
	return h.Filestem() + h.Filesuffix()
}

// Path returns the local path of the final artifact.
func (h *HlsFile) Path() string {
	return filepath.Join(h.directory, h.Filename())
}

// tempDirectory is the per-stream directory holding one file per segment
// while a download is in flight.
func (h *HlsFile) tempDirectory() string {
	return filepath.Join(h.directory, h.Filestem())
}

// manifestName is the local playlist written for the remux tool.
const manifestName = "hls.m3u8"

// Download fetches every segment into the per-stream temp directory, then
// produces the final file either through the configured remuxer or by
// concatenating the segments in playlist order, and removes the temp
// directory. Re-running skips segments already on disk; an existing final
// file short-circuits without any network request.
func (h *HlsFile) Download() (string, error) {
	target := h.Path()
	if _, err := os.Stat(target); err == nil {
		h.log.Warn().Str("path", target).Msg("already downloaded")
		return target, nil
	}

	if err := h.resolve(); err != nil {
		return "", err
	}

	h.log.Info().Str("path", target).Int("segments", len(h.segments)).Msg("downloading")

	tempDir := h.tempDirectory()
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", err
	}

	// segments completed by a previous interrupted run can be skipped
	done := roaring.New()
	for i := range h.segments {
		if _, err := os.Stat(h.segmentPath(i)); err == nil {
			done.Add(uint32(i))
		}
	}

	bar := newCountProgress(int64(len(h.segments)), h.Filename())
	bar.Add64(int64(done.GetCardinality()))

	for i := range h.segments {
		if done.Contains(uint32(i)) {
			continue
		}
		if _, err := h.segment(i).Download(); err != nil {
			return "", fmt.Errorf("segment %d: %w", i, err)
		}
		done.Add(uint32(i))
		bar.Add64(1)
	}
	bar.Finish()

	if h.remuxer != nil {
		if err := h.remux(target); err != nil {
			return "", err
		}
	} else {
		if err := h.concat(target); err != nil {
			return "", err
		}
	}

	for i := range h.segments {
		if err := h.segment(i).Unlink(); err != nil {
			return "", err
		}
	}
	os.Remove(filepath.Join(tempDir, manifestName))
	if err := os.Remove(tempDir); err != nil && !os.IsNotExist(err) {
		return "", err
	}

	return target, nil
}

// segmentPath is the local path segment i downloads to.
func (h *HlsFile) segmentPath(i int) string {
	return h.segment(i).Path()
}

// concat appends the segment files in playlist order into a staging file,
// then moves it into place.
func (h *HlsFile) concat(target string) error {
	staging := target + ".part"

	out, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}
	for i := range h.segments {
		in, err := os.Open(h.segmentPath(i))
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(staging, target)
}

// remux writes a local playlist naming the downloaded segment files and
// hands it to the external remux tool.
func (h *HlsFile) remux(target string) error {
	manifest := filepath.Join(h.tempDirectory(), manifestName)

	var maxDur float64
	for _, s := range h.segments {
		if s.Duration > maxDur {
			maxDur = s.Duration
		}
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(maxDur+1))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	for i, s := range h.segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n%s\n", s.Duration, filepath.Base(h.segmentPath(i)))
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	if err := renameio.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		return err
	}

	staging := target + ".tmp"
	os.Remove(staging)
	if err := h.remuxer.Remux(manifest, staging); err != nil {
		os.Remove(staging)
		return err
	}
	return os.Rename(staging, target)
}

// Exists reports whether the stream's first segment exists. Client errors
// while resolving the playlist resolve to false, not an error.
func (h *HlsFile) Exists() (bool, error) {
	if err := h.resolve(); err != nil {
		if errors.Is(err, ErrClient) {
			return false, nil
		}
		return false, err
	}
	return h.segment(0).Exists()
}

// Unlink removes the final file, every downloaded segment and the temp
// directory. Missing files are not an error.
func (h *HlsFile) Unlink() error {
	var firstErr error
	if err := os.Remove(h.Path()); err != nil && !os.IsNotExist(err) {
		firstErr = err
	}
	if err := os.Remove(h.Path() + ".part"); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}

	if h.resolved {
		for i := range h.segments {
			if err := h.segment(i).Unlink(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	tempDir := h.tempDirectory()
	os.Remove(filepath.Join(tempDir, manifestName))
	if err := os.Remove(tempDir); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (h *HlsFile) closeSegments() {
	for _, wf := range h.files {
		if wf != nil {
			wf.closeStream()
		}
	}
}
