package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TempDirPrefixes are the temp directories Chrome, chromedp and Lighthouse
// leave behind when a run is interrupted.
var TempDirPrefixes = []string{
	".org.chromium.Chromium.",
	"chromedp-runner",
	"lighthouse.",
}

// Sweep removes directories in dir whose name starts with one of prefixes and
// that are older than maxAge. It returns the number of directories removed.
func Sweep(dir string, prefixes []string, maxAge time.Duration, logger logrus.FieldLogger) int {
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warnf("Failed to read temp dir for cleanup: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !hasAnyPrefix(entry.Name(), prefixes) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		fullPath := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(fullPath); err != nil {
			logger.Warnf("Failed to clean up %s: %v", fullPath, err)
			continue
		}

		removed++
		logger.Debugf("Cleaned up browser temp directory (%dmin old): %s", int(now.Sub(info.ModTime()).Minutes()), fullPath)
	}

	return removed
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
