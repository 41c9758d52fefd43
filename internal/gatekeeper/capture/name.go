package capture

import (
	"strconv"
	"strings"
	"time"
)

// ParseImageTime recovers the capture time from a canonical image
// filename.  The second return is false for foreign filenames; callers
// fall back to file mtime.
func ParseImageTime(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, ".jpg")
	if base == name {
		return time.Time{}, false
	}
	i := strings.LastIndex(base, "_")
	if i < 0 {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(base[i+1:], 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}
