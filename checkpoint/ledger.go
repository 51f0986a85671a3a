package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-scrape-stations/models"
)

// Ledger appends finished regions to the completed, partial and failed logs.
// Only completed regions are skipped by the next run.
type Ledger struct {
	mu    sync.Mutex
	paths map[models.Status]string
}

// NewLedger returns a ledger writing to the given log files.
func NewLedger(completedPath, partialPath, failedPath string) *Ledger {
	return &Ledger{
		paths: map[models.Status]string{
			models.StatusComplete: completedPath,
			models.StatusPartial:  partialPath,
			models.StatusFailed:   failedPath,
		},
	}
}

// Record appends region to the log for status as one full line.
func (l *Ledger) Record(region models.Region, status models.Status) error {
	path, ok := l.paths[status]
	if !ok {
		return fmt.Errorf("ledger: unknown status %q", status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s log: %w", status, err)
	}
	if _, err := f.WriteString(string(region) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append %s log: %w", status, err)
	}
	return f.Close()
}
