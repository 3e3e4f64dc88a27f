package ookla

import (
	"fmt"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultBaseURL is the public bucket of the open-data performance tiles.
const DefaultBaseURL = "https://ookla-open-data.s3.amazonaws.com"

// TileURL returns the parquet URL for one quarter of the performance tiles.
// kind is "mobile" or "fixed".
func TileURL(baseURL, kind string, year, quarter int) (string, error) {
	if kind != "mobile" && kind != "fixed" {
		return "", eris.Errorf("ookla: unknown tile type %q", kind)
	}
	if quarter < 1 || quarter > 4 {
		return "", eris.Errorf("ookla: quarter %d out of range", quarter)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	month := (quarter-1)*3 + 1
	return fmt.Sprintf("%s/parquet/performance/type=%s/year=%d/quarter=%d/%d-%02d-01_performance_%s_tiles.parquet",
		strings.TrimRight(baseURL, "/"), kind, year, quarter, year, month, kind), nil
}

// IsRemote reports whether src names an http(s) URL rather than a local file.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "http://")
}

// CacheName is the local file name used for a downloaded tile URL.
func CacheName(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return path.Base(rawURL)
}
