package internal

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rvnztolentino/road-defect-indexing-maps/api/config"
)

// Capture rigs name objects "defect_20250817_142355_<seq>.json"; the
// embedded date/time is what makes key-descending listing a recency proxy.
var keyTimeRe = regexp.MustCompile(`(\d{8})_(\d{6})`)

// DetectionIDFromKey derives the stable detection id from a storage key:
// drop the folder prefix and the file extension.
func DetectionIDFromKey(folder, key string) string {
	id := strings.TrimPrefix(key, folder)
	return strings.TrimSuffix(id, path.Ext(id))
}

// ImageKeyFor returns the JPEG key paired with a metadata key: same
// basename, image extension.
func ImageKeyFor(metadataKey string) string {
	return strings.TrimSuffix(metadataKey, path.Ext(metadataKey)) + config.ImageExt
}

// ParseKeyTimestamp extracts the naming-convention timestamp from a key.
// Returns the zero time when the key does not follow the convention;
// callers fall back to the metadata's ProcessingTimestamp ordering.
func ParseKeyTimestamp(key string) time.Time {
	base := path.Base(key)
	m := keyTimeRe.FindStringSubmatch(base)
	if len(m) != 3 {
		return time.Time{}
	}
	y, _ := strconv.Atoi(m[1][0:4])
	mo, _ := strconv.Atoi(m[1][4:6])
	d, _ := strconv.Atoi(m[1][6:8])
	hh, _ := strconv.Atoi(m[2][0:2])
	mm, _ := strconv.Atoi(m[2][2:4])
	ss, _ := strconv.Atoi(m[2][4:6])
	if mo < 1 || mo > 12 || d < 1 || d > 31 || hh > 23 || mm > 59 || ss > 59 {
		return time.Time{}
	}
	return time.Date(y, time.Month(mo), d, hh, mm, ss, 0, time.UTC)
}
