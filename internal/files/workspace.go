package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"munireports/internal/config"
	apperrors "munireports/internal/errors"
)

// Workspace is the directory tree owned by one city-year workflow:
//
//	<root>/download   written by the browser
//	<root>/raw        promoted, de-duplicated .xls files
//	<root>/converted  final .xlsx files
type Workspace struct {
	Root      string
	Download  string
	Raw       string
	Converted string

	// SettlingWindow is how long download/ must stay free of transient
	// files before it counts as drained
	SettlingWindow time.Duration
	PollInterval   time.Duration

	logger *slog.Logger
}

// NewWorkspace describes the workspace rooted at root. Nothing is created
// until Ensure is called.
func NewWorkspace(root string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		Root:           root,
		Download:       filepath.Join(root, config.DownloadDirName),
		Raw:            filepath.Join(root, config.RawDirName),
		Converted:      filepath.Join(root, config.ConvertedDirName),
		SettlingWindow: config.DefaultSettlingWindow,
		PollInterval:   250 * time.Millisecond,
		logger:         logger.With(slog.String("component", "files.workspace"), slog.String("workspace", root)),
	}
}

// Ensure creates the three stage directories. Safe to call repeatedly.
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.Download, w.Raw, w.Converted} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WaitDownloadsComplete polls download/ until no transient file has been
// seen for the settling window. It returns false when timeout elapses
// first, and an Interrupted error when ctx is cancelled.
func (w *Workspace) WaitDownloadsComplete(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	quietSince := time.Now()
	for {
		pending, err := FindFiles(w.Download, IsTransient)
		if err != nil {
			return false, err
		}
		if len(pending) > 0 {
			quietSince = time.Now()
		} else if time.Since(quietSince) >= w.SettlingWindow {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, apperrors.NewInterrupted("wait_downloads")
		case <-deadline.C:
			w.logger.Warn("Downloads still in flight at timeout",
				slog.Int("pending", len(pending)),
				slog.Duration("timeout", timeout))
			return false, nil
		case <-ticker.C:
		}
	}
}

// CountUniqueReady counts the .xls files in download/ that are not
// browser-renamed duplicates.
func (w *Workspace) CountUniqueReady() (int, error) {
	unique, err := FindFiles(w.Download, isUniqueXLS)
	return len(unique), err
}

// PromoteUnique moves each non-duplicate .xls from download/ into raw/,
// renaming to <stem>_<n>.xls on collision, then deletes the .xls files
// left behind. It returns the number moved.
func (w *Workspace) PromoteUnique() (int, error) {
	return w.promote(nil)
}

// PromoteNew is PromoteUnique for files that an earlier promotion has not
// already moved. seen holds the PromotionKey of every file promoted
// before; matching downloads are deleted with the duplicates and the keys
// of newly moved files are added to seen.
func (w *Workspace) PromoteNew(seen map[string]bool) (int, error) {
	return w.promote(seen)
}

func (w *Workspace) promote(seen map[string]bool) (int, error) {
	unique, err := FindFiles(w.Download, isUniqueXLS)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(w.Raw, 0755); err != nil {
		return 0, fmt.Errorf("failed to create raw directory: %w", err)
	}

	moved, repeated := 0, 0
	for _, f := range unique {
		var key string
		if seen != nil {
			if key, err = PromotionKey(f); err != nil {
				return moved, err
			}
			if seen[key] {
				repeated++
				continue
			}
		}
		name, err := FreeName(w.Raw, f.Name)
		if err != nil {
			return moved, err
		}
		if err := MoveFile(f.Path, filepath.Join(w.Raw, name)); err != nil {
			return moved, fmt.Errorf("failed to promote %s: %w", f.Name, err)
		}
		if name != f.Name {
			w.logger.Info("Promoted with new name",
				slog.String("file", f.Name),
				slog.String("renamed", name))
		}
		if seen != nil {
			seen[key] = true
		}
		moved++
	}

	leftovers, err := FindFiles(w.Download, HasExt(ExtXLS))
	if err != nil {
		return moved, err
	}
	for _, f := range leftovers {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return moved, fmt.Errorf("failed to remove duplicate %s: %w", f.Name, err)
		}
	}

	w.logger.Info("Promotion complete",
		slog.Int("promoted", moved),
		slog.Int("already_promoted", repeated),
		slog.Int("duplicates_removed", len(leftovers)-repeated))
	return moved, nil
}

// PromotionKey identifies a download by name and content, so the same
// execution downloaded twice yields the same key.
func PromotionKey(f FileInfo) (string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", f.Name, err)
	}
	return f.Name + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// ConversionResult reports the outcome of ConvertAllRaw
type ConversionResult struct {
	Converted []string `json:"converted"`
	Failed    []error  `json:"-"`
}

// ConvertAllRaw converts every raw/<stem>.xls into converted/<stem>.xlsx.
// An existing output of the same stem is overwritten. A file that fails is
// recorded as a ConversionError and the batch goes on.
func (w *Workspace) ConvertAllRaw(ctx context.Context, codec Codec) (ConversionResult, error) {
	var res ConversionResult
	raw, err := FindFiles(w.Raw, HasExt(ExtXLS))
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(w.Converted, 0755); err != nil {
		return res, fmt.Errorf("failed to create converted directory: %w", err)
	}

	for _, f := range raw {
		if ctx.Err() != nil {
			return res, apperrors.NewInterrupted("convert")
		}
		stem := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		dst := filepath.Join(w.Converted, stem+ExtXLSX)
		if err := codec.Convert(f.Path, dst); err != nil {
			w.logger.Warn("Conversion failed",
				slog.String("file", f.Name),
				slog.String("error", err.Error()))
			res.Failed = append(res.Failed, apperrors.NewConversionError(f.Name, err))
			continue
		}
		res.Converted = append(res.Converted, filepath.Base(dst))
	}
	return res, nil
}

// ClearDownload removes everything inside download/
func (w *Workspace) ClearDownload() error {
	entries, err := os.ReadDir(w.Download)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read download directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(w.Download, e.Name())); err != nil {
			return fmt.Errorf("failed to clear %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RawFiles lists raw/*.xls
func (w *Workspace) RawFiles() ([]FileInfo, error) {
	return FindFiles(w.Raw, HasExt(ExtXLS))
}

// ConvertedFiles lists converted/*.xlsx
func (w *Workspace) ConvertedFiles() ([]FileInfo, error) {
	return FindFiles(w.Converted, HasExt(ExtXLSX))
}

func isUniqueXLS(name string) bool {
	return IsXLS(name) && !IsDuplicate(name)
}

// MoveFile moves src to dst, falling back to copy and delete when rename
// fails (e.g. across filesystems).
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFile copies src to dst and syncs it
func CopyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	return dstFile.Sync()
}
