package webfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// CachedWebFile is a read-through cache over a WebFile. Reads are
// answered from the on-disk fragment store where possible; only missing
// bytes are fetched from the network, and everything fetched is persisted.
// Once the cached prefix covers the whole resource the fragments are
// compacted into the final file and all further reads are pure local I/O.
//
// The logical read position is independent from the underlying WebFile's
// position, since a read may never touch the network at all.
type CachedWebFile struct {
	w   *WebFile
	pos int64
	log zerolog.Logger

	store *PartFile
}

var _ RangeReader = (*CachedWebFile)(nil)

// NewCachedWebFile returns a caching wrapper around url. The cache lives
// next to the final download path.
func NewCachedWebFile(url string, opts ...Option) *CachedWebFile {
	f := &CachedWebFile{
		w:   NewWebFile(url, opts...),
		log: componentLogger("cached", url),
	}
	return f
}

// URL returns the resource URL.
func (f *CachedWebFile) URL() string {
	return f.w.URL()
}

// SetURL points at a different resource, discarding cached metadata and
// the store binding. On-disk data of the previous URL is left alone.
func (f *CachedWebFile) SetURL(url string) {
	f.w.SetURL(url)
	f.store = nil
	f.pos = 0
	f.log = componentLogger("cached", url)
}

// Store returns the fragment store backing this file. The store path
// derives from the resolved filename, so the first call may issue a
// metadata request.
func (f *CachedWebFile) Store() *PartFile {
	if f.store == nil {
		f.store = NewPartFile(f.w.Path())
	}
	return f.store
}

// Size reports the remote resource's size.
func (f *CachedWebFile) Size() (int64, error) {
	return f.w.Size()
}

// Filename reports the resolved local file name.
func (f *CachedWebFile) Filename() string {
	return f.w.Filename()
}

// Path reports the local path of the final artifact.
func (f *CachedWebFile) Path() string {
	return f.w.Path()
}

// Seek updates the logical position. No I/O happens; the underlying
// stream is repositioned lazily by the next read that needs the network.
func (f *CachedWebFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return f.pos, fmt.Errorf("%w: negative offset %d", ErrSeek, offset)
		}
		f.pos = offset
	case io.SeekCurrent:
		if f.pos+offset < 0 {
			return f.pos, fmt.Errorf("%w: negative offset %d", ErrSeek, f.pos+offset)
		}
		f.pos += offset
	case io.SeekEnd:
		size, err := f.w.Size()
		if err != nil {
			return f.pos, err
		}
		if size < 0 {
			return f.pos, fmt.Errorf("%w: size unknown, cannot seek from end", ErrSeek)
		}
		if size+offset < 0 {
			return f.pos, fmt.Errorf("%w: negative offset %d", ErrSeek, size+offset)
		}
		f.pos = size + offset
	default:
		return f.pos, fmt.Errorf("%w: invalid whence %d", ErrSeek, whence)
	}
	return f.pos, nil
}

// Read fills p from the cache first and fetches only the remainder from
// the network, persisting it as it goes. When the remote stream cannot be
// repositioned past the cached prefix (no range support, or the position
// is at the end) only the cached bytes are returned. Completing the
// cached prefix triggers compaction.
func (f *CachedWebFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	store := f.Store()

	// final file answers everything locally
	if _, err := os.Stat(store.Path()); err == nil {
		n, err := store.ReadAt(p, f.pos)
		f.pos += int64(n)
		if n == 0 && err == nil {
			err = io.EOF
		}
		return n, err
	}

	n, err := store.ReadAt(p, f.pos)
	if err != nil {
		return 0, err
	}
	if n == len(p) {
		f.pos += int64(n)
		return n, nil
	}

	// reposition the remote stream to just past the cached prefix
	fetchPos := f.pos + int64(n)
	if _, err := f.w.Seek(fetchPos, io.SeekStart); err != nil {
		if errors.Is(err, ErrSeek) {
			// no network fallback possible, degrade to cached bytes
			f.log.Debug().Err(err).Int64("offset", fetchPos).Msg("remote seek rejected, returning cached bytes")
			f.pos += int64(n)
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		return n, err
	}

	m, rerr := readFull(f.w, p[n:])
	if m > 0 {
		if _, werr := store.WriteAt(p[n:n+m], fetchPos); werr != nil {
			return n, werr
		}
	}

	if total, terr := f.w.Size(); terr == nil && total >= 0 {
		if prefix, perr := store.Size(); perr == nil && prefix == total {
			if jerr := store.Join(total); jerr != nil {
				return n, jerr
			}
		}
	}

	f.pos += int64(n + m)
	if rerr != nil && !errors.Is(rerr, io.EOF) {
		return n + m, rerr
	}
	if n+m == 0 {
		return 0, io.EOF
	}
	return n + m, nil
}

// readFull fills p from r until full or an error, tolerating the short
// reads a network body produces. Unlike io.ReadFull it passes the raw
// io.EOF through, which the caller uses as the end-of-resource signal.
func readFull(r io.Reader, p []byte) (int, error) {
	var n int
	for n < len(p) {
		k, err := r.Read(p[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Download drives sequential cached reads over the whole resource until
// the store completes and compacts itself. Re-running against a finished
// download is a no-op. Interrupted runs leave fragments behind for the
// next attempt to resume from.
func (f *CachedWebFile) Download() (string, error) {
	target := f.w.Path()
	if _, err := os.Stat(target); err == nil {
		f.log.Warn().Str("path", target).Msg("already downloaded")
		return target, nil
	}
	if err := os.MkdirAll(f.w.directory, 0o755); err != nil {
		return "", err
	}

	f.log.Info().Str("path", target).Msg("downloading")

	total, err := f.w.Size()
	if err != nil {
		return "", err
	}

	err = f.w.client.Retry.Do(func() error {
		bar := newByteProgress(total, 0, f.Filename())
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		buf := make([]byte, downloadChunkSize)
		for {
			n, rerr := f.Read(buf)
			bar.Add64(int64(n))
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
		bar.Finish()

		if total < 0 {
			// length was never declared; everything read is everything
			prefix, perr := f.Store().Size()
			if perr != nil {
				return perr
			}
			return f.Store().Join(prefix)
		}
		if _, err := os.Stat(target); err != nil {
			return fmt.Errorf("%w: cached prefix did not reach %d bytes", ErrSizeMismatch, total)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// Unlink removes the final file and all fragments.
func (f *CachedWebFile) Unlink() error {
	return f.Store().Unlink()
}
