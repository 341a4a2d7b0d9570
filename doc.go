// Package webfile provides resumable, cache-backed random access to
// remote HTTP(S) resources.
//
// WebFile exposes a single URL as an io.ReadSeeker whose seeks translate
// into HTTP range requests. CachedWebFile layers an on-disk fragment
// cache (PartFile) on top, so repeated and out-of-order reads only fetch
// each byte range once; when the cache covers the whole resource the
// fragments are compacted into a normal local file. HlsFile presents the
// ordered segments of an HLS stream as one seekable virtual file and can
// download it into a single container, either by concatenating segments
// or through an external ffmpeg remux.
package webfile
