package journal

import (
	"fmt"
	"os"
	"time"
)

// RetentionStats summarizes one retention sweep.
type RetentionStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// Prune removes journal files whose modification time is older than the
// retention window. The file currently being written is always newer
// than any sane retention window, so it survives.
func Prune(dir string, retention time.Duration) (RetentionStats, error) {
	stats := RetentionStats{}
	cutoff := time.Now().Add(-retention)

	for _, path := range journalFiles(dir) {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return stats, fmt.Errorf("removing journal file %s: %w", path, err)
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}
	return stats, nil
}
