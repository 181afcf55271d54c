package util

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DateRangeName names an archive after the modification-time range of its
// members, e.g. "2024-01-03_to_2024-02-11".
func DateRangeName(min, max time.Time) string {
	return fmt.Sprintf("%s_to_%s", min.UTC().Format(dateLayout), max.UTC().Format(dateLayout))
}

// IDRangeName names an archive after the identifier range that produced it,
// e.g. "u10021-u10544".
func IDRangeName(first, last string) string {
	return fmt.Sprintf("%s-%s", first, last)
}

// ArchiveFileName appends the format extension, and ".enc" when the archive
// is encrypted at rest.
func ArchiveFileName(name, format string, encrypted bool) string {
	out := name + "." + format
	if encrypted {
		out += ".enc"
	}
	return out
}

// JoinKey builds a normalized object key under a prefix.
func JoinKey(prefix string, parts ...string) string {
	all := []string{}
	if prefix != "" {
		all = append(all, strings.Trim(prefix, "/"))
	}
	all = append(all, parts...)
	return path.Join(all...)
}

// EnsureDirPrefix guarantees a non-empty prefix ends with a single slash so
// that it matches whole path elements when listing.
func EnsureDirPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}
