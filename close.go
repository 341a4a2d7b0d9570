package webfile

// Close releases the open network stream, if any. The WebFile remains
// usable; the next read reopens at the current position.
func (f *WebFile) Close() error {
	f.closeStream()
	return nil
}

// Close releases the underlying network stream and drops this instance
// from the Simple() cache. On-disk fragments are kept for later resume.
func (f *CachedWebFile) Close() error {
	forget(f.w.url)
	return f.w.Close()
}

// Close releases the network streams of any segments opened so far.
func (h *HlsFile) Close() error {
	h.closeSegments()
	return nil
}
