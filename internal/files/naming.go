package files

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Extensions handled by the pipeline
const (
	ExtXLS  = ".xls"
	ExtXLSX = ".xlsx"
)

// transientExts are written by browsers while a download is in flight
var transientExts = map[string]bool{
	".crdownload": true,
	".part":       true,
	".tmp":        true,
}

// duplicateRe matches the "(N)" suffix browsers append on name clashes,
// with or without a separating space, after a non-empty stem.
var duplicateRe = regexp.MustCompile(`\S\s*\(\d+\)$`)

// IsDuplicate reports whether name is a browser-renamed copy of another
// download, e.g. "Report (1).xls" or "Report(1).xls".
func IsDuplicate(name string) bool {
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, ExtXLS) {
		return false
	}
	return duplicateRe.MatchString(strings.TrimSuffix(name, ext))
}

// IsTransient reports whether name is an unfinished download
func IsTransient(name string) bool {
	return transientExts[strings.ToLower(filepath.Ext(name))]
}

// IsXLS reports whether name has the legacy spreadsheet extension
func IsXLS(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ExtXLS)
}

// FreeName returns name if it does not exist in dir, otherwise
// "<stem>_<n><ext>" for the smallest free positive n.
func FreeName(dir, name string) (string, error) {
	if !exists(filepath.Join(dir, name)) {
		return name, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n < 100000; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !exists(filepath.Join(dir, candidate)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
