package webfile

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// progressVisible reports whether progress bars should be rendered:
// stderr must be a terminal and the log level must include info.
func progressVisible() bool {
	if zerolog.GlobalLevel() > zerolog.InfoLevel {
		return false
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newByteProgress returns a byte-count progress bar. A negative total
// renders a spinner.
func newByteProgress(total int64, initial int64, desc string) *progressbar.ProgressBar {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetVisibility(progressVisible()),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
	if initial > 0 {
		bar.Add64(initial)
	}
	return bar
}

// newCountProgress returns a progress bar counting items (HLS segments).
func newCountProgress(total int64, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetVisibility(progressVisible()),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
}
