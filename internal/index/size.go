package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/sirupsen/logrus"
)

const (
	bytesPerMB = 1024 * 1024
	// warnRatio is the share of a limit at which a warning is emitted
	warnRatio = 0.8
	// listedFiles caps the largest and oversized file listings
	listedFiles = 5
)

// ErrSizeLimit is returned when a project exceeds the configured limits
var ErrSizeLimit = errors.New("project exceeds size limits")

// SizeLimitError carries the validator messages for a rejected project
type SizeLimitError struct {
	Messages []string
}

func (e *SizeLimitError) Error() string {
	return ErrSizeLimit.Error() + ":\n" + strings.Join(e.Messages, "\n")
}

// Unwrap returns ErrSizeLimit
func (e *SizeLimitError) Unwrap() error {
	return ErrSizeLimit
}

// FileSize is a file with its size in bytes
type FileSize struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ProjectStats summarises the files about to be indexed
type ProjectStats struct {
	TotalFiles     int        `json:"total_files"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	OversizedFiles []FileSize `json:"oversized_files,omitempty"`
	LargestFiles   []FileSize `json:"largest_files,omitempty"`
}

// TotalSizeMB returns the total size in megabytes
func (s *ProjectStats) TotalSizeMB() float64 {
	return float64(s.TotalSizeBytes) / bytesPerMB
}

// IsOversized reports whether path was flagged as exceeding the file limit
func (s *ProjectStats) IsOversized(path string) bool {
	for _, f := range s.OversizedFiles {
		if f.Path == path {
			return true
		}
	}
	return false
}

// SizeValidator checks a file list against the indexing limits
type SizeValidator struct {
	limits config.IndexingConfig
}

// NewSizeValidator creates a validator for the given limits
func NewSizeValidator(limits config.IndexingConfig) *SizeValidator {
	return &SizeValidator{limits: limits}
}

// Analyze stats every file. Files that cannot be stat'd are counted but
// contribute no size.
func (v *SizeValidator) Analyze(files []string) *ProjectStats {
	stats := &ProjectStats{TotalFiles: len(files)}
	maxFileBytes := int64(v.limits.MaxFileSizeMB) * bytesPerMB

	sizes := make([]FileSize, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("could not get file size")
			continue
		}
		fs := FileSize{Path: path, Size: info.Size()}
		stats.TotalSizeBytes += fs.Size
		sizes = append(sizes, fs)
		if maxFileBytes > 0 && fs.Size > maxFileBytes {
			stats.OversizedFiles = append(stats.OversizedFiles, fs)
		}
	}

	sort.SliceStable(sizes, func(i, j int) bool {
		return sizes[i].Size > sizes[j].Size
	})
	if len(sizes) > listedFiles {
		sizes = sizes[:listedFiles]
	}
	stats.LargestFiles = sizes
	return stats
}

// Validate returns false when a hard limit is exceeded. Messages hold
// errors, warnings at 80% of a limit, and the oversized files that will be
// skipped.
func (v *SizeValidator) Validate(stats *ProjectStats) (bool, []string) {
	var msgs []string
	ok := true

	maxFiles := v.limits.MaxFiles
	if maxFiles > 0 {
		switch {
		case stats.TotalFiles > maxFiles:
			ok = false
			msgs = append(msgs,
				fmt.Sprintf("Too many files: %d files (limit: %d)", stats.TotalFiles, maxFiles),
				"  Use --include patterns to filter files, or raise indexing.max_files")
		case float64(stats.TotalFiles) > float64(maxFiles)*warnRatio:
			msgs = append(msgs, fmt.Sprintf("Approaching file limit: %d files (limit: %d)", stats.TotalFiles, maxFiles))
		}
	}

	maxMB := float64(v.limits.MaxTotalSizeMB)
	if maxMB > 0 {
		switch {
		case stats.TotalSizeMB() > maxMB:
			ok = false
			msgs = append(msgs,
				fmt.Sprintf("Project too large: %s (limit: %d MB)", FormatSize(stats.TotalSizeBytes), v.limits.MaxTotalSizeMB),
				"  Use --include patterns to filter files, or raise indexing.max_total_size_mb")
		case stats.TotalSizeMB() > maxMB*warnRatio:
			msgs = append(msgs, fmt.Sprintf("Approaching size limit: %s (limit: %d MB)", FormatSize(stats.TotalSizeBytes), v.limits.MaxTotalSizeMB))
		}
	}

	if n := len(stats.OversizedFiles); n > 0 {
		msgs = append(msgs, fmt.Sprintf("Found %d file(s) exceeding %d MB (these will be skipped):", n, v.limits.MaxFileSizeMB))
		for _, f := range stats.OversizedFiles[:min(n, listedFiles)] {
			msgs = append(msgs, fmt.Sprintf("  - %s: %s", filepath.Base(f.Path), FormatSize(f.Size)))
		}
		if n > listedFiles {
			msgs = append(msgs, fmt.Sprintf("  ... and %d more", n-listedFiles))
		}
	}

	return ok, msgs
}

// Summary describes the project in a few lines
func (v *SizeValidator) Summary(stats *ProjectStats) []string {
	lines := []string{
		"Project statistics:",
		fmt.Sprintf("  Total files: %d", stats.TotalFiles),
		fmt.Sprintf("  Total size: %s", FormatSize(stats.TotalSizeBytes)),
	}
	if len(stats.LargestFiles) > 0 {
		lines = append(lines, "  Largest files:")
		for _, f := range stats.LargestFiles {
			lines = append(lines, fmt.Sprintf("    %s: %s", filepath.Base(f.Path), FormatSize(f.Size)))
		}
	}
	return lines
}

// FormatSize renders a byte count with two decimals and a binary unit
func FormatSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f TB", size)
}
