package webfile

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// FragmentStore is the capability PartFile provides: random-access reads
// and writes over a partially-downloaded file, compacted into one final
// artifact once complete.
type FragmentStore interface {
	// ReadAt copies cached bytes starting at off into p. It stops at the
	// first gap, so it may return fewer bytes than len(p) with a nil
	// error; n == 0 means nothing is cached at off.
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Size returns the length of the contiguous cached prefix starting at
	// offset 0, not the total bytes on disk.
	Size() (int64, error)
	Join(total int64) error
	Unlink() error
}

// PartFile manages the on-disk fragments of a partially-downloaded file.
// Fragments live next to the final path, named "<name>.part<offset>"
// where the numeric suffix is the byte offset the fragment starts at.
// Fragments are not required to be gap-free; Join compacts them into the
// final file once they cover the whole expected size.
type PartFile struct {
	path string
	pos  int64
	log  zerolog.Logger
}

var _ FragmentStore = (*PartFile)(nil)

// NewPartFile returns a fragment store for the given final path.
func NewPartFile(path string) *PartFile {
	return &PartFile{
		path: path,
		log:  componentLogger("partfile", path),
	}
}

// Path returns the final file path this store compacts into.
func (j *PartFile) Path() string {
	return j.path
}

// fragment is one on-disk piece: the half-open byte range
// [start, start+size).
type fragment struct {
	path  string
	start int64
	size  int64
}

func (f fragment) end() int64 {
	return f.start + f.size
}

// fragments lists the on-disk fragments in ascending start order. The
// bare "<name>.part" staging file used by single-shot downloads carries
// no offset and is not a fragment.
func (j *PartFile) fragments() ([]fragment, error) {
	matches, err := filepath.Glob(j.path + ".part*")
	if err != nil {
		return nil, err
	}

	prefix := filepath.Base(j.path) + ".part"
	var frags []fragment
	for _, m := range matches {
		suffix := strings.TrimPrefix(filepath.Base(m), prefix)
		start, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		frags = append(frags, fragment{path: m, start: start, size: fi.Size()})
	}

	sort.Slice(frags, func(a, b int) bool { return frags[a].start < frags[b].start })
	return frags, nil
}

// Size returns the length of the maximal contiguous prefix of cached
// bytes starting at offset 0. A fragment sitting after a gap occupies
// disk space but does not count. Once the final file exists, its size is
// returned instead.
func (j *PartFile) Size() (int64, error) {
	if fi, err := os.Stat(j.path); err == nil {
		return fi.Size(), nil
	}

	frags, err := j.fragments()
	if err != nil {
		return 0, err
	}

	var prefix int64
	for _, f := range frags {
		if f.start > prefix {
			break
		}
		if f.end() > prefix {
			prefix = f.end()
		}
	}
	return prefix, nil
}

// Seek positions the cursor used by Read and Write.
func (j *PartFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		j.pos = offset
	case io.SeekCurrent:
		j.pos += offset
	default:
		size, err := j.Size()
		if err != nil {
			return j.pos, err
		}
		j.pos = size + offset
	}
	return j.pos, nil
}

// Read copies cached bytes from the cursor position, advancing it. See
// ReadAt for the gap semantics; io.EOF is returned when nothing is cached
// at the cursor.
func (j *PartFile) Read(p []byte) (int, error) {
	n, err := j.ReadAt(p, j.pos)
	j.pos += int64(n)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// ReadAt copies cached bytes starting at off into p. Fragments are
// scanned in ascending order; the copy continues into the next fragment
// only when it begins exactly where the cursor sits, so the scan stops at
// the first gap and the caller may receive fewer bytes than requested.
// Reads are answered from the final file once it exists.
func (j *PartFile) ReadAt(p []byte, off int64) (int, error) {
	if _, err := os.Stat(j.path); err == nil {
		f, err := os.Open(j.path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		n, err := f.ReadAt(p, off)
		if err == io.EOF && n > 0 {
			err = nil
		}
		return n, err
	}

	frags, err := j.fragments()
	if err != nil {
		return 0, err
	}

	cursor := off
	n := 0
	for _, frag := range frags {
		if n == len(p) {
			break
		}
		if cursor < frag.start || cursor >= frag.end() {
			continue
		}

		f, err := os.Open(frag.path)
		if err != nil {
			return n, err
		}
		want := len(p) - n
		if avail := frag.end() - cursor; int64(want) > avail {
			want = int(avail)
		}
		k, err := f.ReadAt(p[n:n+want], cursor-frag.start)
		f.Close()
		n += k
		cursor += int64(k)
		if err != nil && err != io.EOF {
			return n, err
		}
		j.log.Debug().Str("fragment", frag.path).Int("bytes", k).Msg("read from cached fragment")
	}
	return n, nil
}

// Write stores bytes at the cursor position, advancing it.
func (j *PartFile) Write(p []byte) (int, error) {
	n, err := j.WriteAt(p, j.pos)
	j.pos += int64(n)
	return n, err
}

// WriteAt stores bytes at off. If the final file exists the write goes
// directly into it. A write beginning inside, or exactly at the end of,
// an existing fragment extends that fragment in place; anything else
// starts a new fragment at off.
func (j *PartFile) WriteAt(p []byte, off int64) (int, error) {
	if _, err := os.Stat(j.path); err == nil {
		f, err := os.OpenFile(j.path, os.O_WRONLY, 0o666)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		return f.WriteAt(p, off)
	}

	frags, err := j.fragments()
	if err != nil {
		return 0, err
	}

	for _, frag := range frags {
		if off < frag.start || off > frag.end() {
			continue
		}
		f, err := os.OpenFile(frag.path, os.O_WRONLY, 0o666)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		j.log.Debug().Str("fragment", frag.path).Int64("offset", off).Msg("extending fragment")
		return f.WriteAt(p, off-frag.start)
	}

	name := j.path + ".part" + strconv.FormatInt(off, 10)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	j.log.Debug().Str("fragment", name).Msg("new fragment")
	return f.Write(p)
}

// Join compacts the fragments into the final file and removes them. It is
// a no-op if the final file already exists, or if the contiguous prefix
// does not reach total (a negative total skips that check and joins
// whatever prefix is cached).
func (j *PartFile) Join(total int64) error {
	if _, err := os.Stat(j.path); err == nil {
		return nil
	}

	prefix, err := j.Size()
	if err != nil {
		return err
	}
	if total >= 0 && prefix != total {
		return nil
	}

	j.log.Debug().Int64("size", prefix).Msg("joining fragments")

	t, err := renameio.TempFile(filepath.Dir(j.path), j.path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	buf := make([]byte, downloadChunkSize)
	var off int64
	for off < prefix {
		want := int64(len(buf))
		if rem := prefix - off; rem < want {
			want = rem
		}
		n, err := j.ReadAt(buf[:want], off)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if _, err := t.Write(buf[:n]); err != nil {
			return err
		}
		off += int64(n)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return err
	}

	frags, err := j.fragments()
	if err != nil {
		return err
	}
	for _, frag := range frags {
		j.log.Debug().Str("fragment", frag.path).Msg("removing fragment")
		if err := os.Remove(frag.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Unlink removes the final file and every fragment. Missing files are not
// an error.
func (j *PartFile) Unlink() error {
	var firstErr error
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		firstErr = err
	}

	frags, err := j.fragments()
	if err != nil {
		return err
	}
	for _, frag := range frags {
		if err := os.Remove(frag.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
