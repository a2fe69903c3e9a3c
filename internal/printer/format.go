package printer

import (
	"fmt"
	"time"

	"github.com/slok/satdl/internal/model"
)

var agoUnits = []struct {
	d    time.Duration
	name string
}{
	{24 * time.Hour, "day"},
	{time.Hour, "hour"},
	{time.Minute, "minute"},
	{time.Second, "second"},
}

// TimeAgo returns a human-readable relative time string in UTC.
// Examples: "5 seconds ago (UTC)", "2 minutes ago (UTC)", "3 hours ago (UTC)".
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	for _, u := range agoUnits {
		if diff < u.d && u.d != time.Second {
			continue
		}
		n := int(diff / u.d)
		if n == 1 {
			return fmt.Sprintf("1 %s ago (UTC)", u.name)
		}
		return fmt.Sprintf("%d %ss ago (UTC)", n, u.name)
	}
	return ""
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// FormatProgress returns the downloaded files over the total, "?" while the
// total is unknown.
func FormatProgress(j model.Job) string {
	if j.TotalFiles == nil {
		return fmt.Sprintf("%d/?", j.DownloadedFiles)
	}
	return fmt.Sprintf("%d/%d", j.DownloadedFiles, *j.TotalFiles)
}

// FormatBytes returns a human-readable byte size string.
// Examples: "0 B", "512 B", "1.5 KB", "700.0 MB".
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "0 B"
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}
