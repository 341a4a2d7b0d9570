package webfile

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCachedFile(t *testing.T, url string) *CachedWebFile {
	t.Helper()
	return NewCachedWebFile(url,
		WithClient(testClient()),
		WithDirectory(t.TempDir()),
		WithFilename("cached.bin"),
	)
}

func TestCachedWebFileReadThrough(t *testing.T) {
	srv, rec := newRangeServer(testData)
	defer srv.Close()

	f := newTestCachedFile(t, srv.URL+"/test.bin")
	defer f.Close()

	got := make([]byte, 1024)
	_, err := io.ReadFull(f, got)
	require.NoError(t, err)
	assert.Equal(t, testData[:1024], got)

	// the fetched bytes are now on disk
	size, err := f.Store().Size()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, int64(1024))

	// a second reader over the same path serves the prefix without a fetch
	f2 := NewCachedWebFile(srv.URL+"/test.bin",
		WithClient(testClient()),
		WithDirectory(filepath.Dir(f.Path())),
		WithFilename("cached.bin"),
	)
	defer f2.Close()

	gets := rec.gets()
	_, err = io.ReadFull(f2, got)
	require.NoError(t, err)
	assert.Equal(t, testData[:1024], got)
	assert.Equal(t, gets, rec.gets())
}

func TestCachedWebFileSparseReads(t *testing.T) {
	srv, _ := newRangeServer(testData)
	defer srv.Close()

	f := newTestCachedFile(t, srv.URL+"/test.bin")
	defer f.Close()

	// read a window in the middle, then one at the start
	_, err := f.Seek(4096, io.SeekStart)
	require.NoError(t, err)
	mid := make([]byte, 256)
	_, err = io.ReadFull(f, mid)
	require.NoError(t, err)
	assert.Equal(t, testData[4096:4352], mid)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	head := make([]byte, 256)
	_, err = io.ReadFull(f, head)
	require.NoError(t, err)
	assert.Equal(t, testData[:256], head)

	// the gap keeps the contiguous prefix at the first hole
	size, err := f.Store().Size()
	require.NoError(t, err)
	assert.Less(t, size, int64(4096))
}

func TestCachedWebFileJoinOnCompletion(t *testing.T) {
	srv, _ := newRangeServer(testData)
	defer srv.Close()

	f := newTestCachedFile(t, srv.URL+"/test.bin")
	defer f.Close()

	// read the whole resource sequentially
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, testData, got)

	// fragments were compacted into the final file
	final, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, testData, final)

	matches, err := filepath.Glob(f.Path() + ".part*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCachedWebFileDegradesWithoutRangeSupport(t *testing.T) {
	srv, _ := newNoRangeServer(testData)
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "cached.bin")

	// 100 bytes are already cached; the server cannot serve the rest of
	// the window, so the read returns just the cached prefix
	require.NoError(t, os.WriteFile(target+".part0", testData[:100], 0o666))

	f := NewCachedWebFile(srv.URL+"/test.bin",
		WithClient(testClient()),
		WithDirectory(dir),
		WithFilename("cached.bin"),
	)
	defer f.Close()

	got := make([]byte, 200)
	n, err := f.Read(got)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, testData[:100], got[:100])
}

func TestCachedWebFileSequentialNoRangeServer(t *testing.T) {
	srv, _ := newNoRangeServer(testData)
	defer srv.Close()

	f := newTestCachedFile(t, srv.URL+"/test.bin")
	defer f.Close()

	// sequential reads never need to reposition, so a server without
	// range support still works end to end
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, testData, got)
}

func TestCachedWebFileDownload(t *testing.T) {
	srv, _ := newRangeServer(testData)
	defer srv.Close()

	f := newTestCachedFile(t, srv.URL+"/test.bin")
	defer f.Close()

	path, err := f.Download()
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testData, got)

	matches, err := filepath.Glob(path + ".part*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCachedWebFileDownloadResumesFragments(t *testing.T) {
	srv, rec := newRangeServer(testData)
	defer srv.Close()

	dir := t.TempDir()
	// a prior run cached the first 8KiB
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cached.bin.part0"), testData[:8192], 0o666))

	f := NewCachedWebFile(srv.URL+"/test.bin",
		WithClient(testClient()),
		WithDirectory(dir),
		WithFilename("cached.bin"),
	)
	defer f.Close()

	path, err := f.Download()
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testData, got)

	// the network was only asked for bytes past the cached prefix
	for _, rg := range rec.getRanges() {
		assert.NotEqual(t, "", rg)
	}
}

func TestCachedWebFileDownloadAlreadyComplete(t *testing.T) {
	srv, rec := newRangeServer(testData)
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cached.bin"), testData, 0o666))

	f := NewCachedWebFile(srv.URL+"/test.bin",
		WithClient(testClient()),
		WithDirectory(dir),
		WithFilename("cached.bin"),
	)
	defer f.Close()

	_, err := f.Download()
	require.NoError(t, err)
	assert.Equal(t, 0, rec.count())
}

func TestCachedWebFileReadFromFinalFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cached.bin"), testData[:1000], 0o666))

	// the URL is never contacted once the final file exists
	f := NewCachedWebFile("http://127.0.0.1:1/unreachable.bin",
		WithClient(testClient()),
		WithDirectory(dir),
		WithFilename("cached.bin"),
	)
	defer f.Close()

	got := make([]byte, 1000)
	_, err := io.ReadFull(f, got)
	require.NoError(t, err)
	assert.Equal(t, testData[:1000], got)

	// reading past the end reports EOF
	n, err := f.Read(got)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCachedWebFileSeekNegative(t *testing.T) {
	f := newTestCachedFile(t, "https://example.com/test.bin")

	_, err := f.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, ErrSeek)

	_, err = f.Seek(-1, io.SeekCurrent)
	assert.ErrorIs(t, err, ErrSeek)
}

func TestCachedWebFileUnlink(t *testing.T) {
	srv, _ := newRangeServer(testData)
	defer srv.Close()

	f := newTestCachedFile(t, srv.URL+"/test.bin")
	defer f.Close()

	got := make([]byte, 100)
	_, err := io.ReadFull(f, got)
	require.NoError(t, err)

	require.NoError(t, f.Unlink())
	matches, err := filepath.Glob(f.Path() + ".part*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}
