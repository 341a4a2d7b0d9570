package webfile

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"os"
	"sync"
)

var (
	openFiles   = make(map[[32]byte]*CachedWebFile)
	openFilesLk sync.RWMutex
)

// Simple returns a caching file for u backed by a deterministic path in
// the system temp directory. Calling it twice with the same URL returns
// the same instance, so partially-cached data is reused within a process.
func Simple(u string) (*CachedWebFile, error) {
	if _, err := url.Parse(u); err != nil {
		return nil, err
	}

	hash := sha256.Sum256([]byte(u))

	openFilesLk.RLock()
	f, ok := openFiles[hash]
	openFilesLk.RUnlock()

	if ok {
		return f, nil
	}

	openFilesLk.Lock()
	defer openFilesLk.Unlock()

	// another caller may have created it between the two locks
	if f, ok = openFiles[hash]; ok {
		return f, nil
	}

	hashStr := base64.RawURLEncoding.EncodeToString(hash[:])
	f = NewCachedWebFile(u,
		WithDirectory(os.TempDir()),
		WithFilename("remote-"+hashStr+".bin"),
	)

	openFiles[hash] = f

	return f, nil
}

// forget drops a URL from the instance cache. Used by Close.
func forget(u string) {
	hash := sha256.Sum256([]byte(u))
	openFilesLk.Lock()
	delete(openFiles, hash)
	openFilesLk.Unlock()
}
