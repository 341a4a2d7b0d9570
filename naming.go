package webfile

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	unsafeStemChars = regexp.MustCompile(`[/:|\s\*\.\?\\"]`)
	unsafeDirChars  = regexp.MustCompile(`[:|\s\*\?\\"]`)
)

// maxFilestemBytes leaves headroom below the usual 255-byte file name
// limit for a suffix and fragment decorations (".part<offset>").
const maxFilestemBytes = 255 - 10

// sanitizeDirectory replaces characters that are unsafe in directory
// names on common filesystems.
func sanitizeDirectory(dir string) string {
	return unsafeDirChars.ReplaceAllString(dir, "_")
}

// sanitizeFilestem normalizes a file stem to NFC, truncates it to fit the
// filesystem name limit and replaces unsafe characters.
func sanitizeFilestem(stem string) string {
	stem = norm.NFC.String(stem)
	for len(stem) > maxFilestemBytes {
		r := []rune(stem)
		stem = string(r[:len(r)-1])
	}
	return unsafeStemChars.ReplaceAllString(stem, "_")
}

// urlFilename returns the last path element of a URL.
func urlFilename(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return path.Base(rawurl)
	}
	return path.Base(u.Path)
}

// stemOf returns name without its suffix.
func stemOf(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
