// Package checkpoint tracks which regions are left to collect and records the
// outcome of each finished region so a later run can resume.
package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/aluiziolira/go-scrape-stations/models"
)

// Load builds the work queue for a run: every region of the master list at
// allPath that is not in the completed log at completedPath, shuffled by rng.
// A missing completed log is treated as empty. alreadyDone counts the master
// regions found in the completed log.
func Load(allPath, completedPath string, rng *rand.Rand) (queue []models.Region, alreadyDone int, err error) {
	all, err := readRegions(allPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read region list: %w", err)
	}
	if len(all) == 0 {
		return nil, 0, fmt.Errorf("region list %s is empty", allPath)
	}

	done, err := readRegions(completedPath)
	if errors.Is(err, fs.ErrNotExist) {
		done = nil
	} else if err != nil {
		return nil, 0, fmt.Errorf("read completed log: %w", err)
	}

	completed := make(map[models.Region]struct{}, len(done))
	for _, r := range done {
		completed[r] = struct{}{}
	}

	queue = make([]models.Region, 0, len(all))
	for _, r := range all {
		if _, ok := completed[r]; ok {
			alreadyDone++
			continue
		}
		queue = append(queue, r)
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	rng.Shuffle(len(queue), func(i, j int) {
		queue[i], queue[j] = queue[j], queue[i]
	})
	return queue, alreadyDone, nil
}

// readRegions returns the distinct non-blank lines of path in file order.
func readRegions(path string) ([]models.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		out  []models.Region
		seen = make(map[models.Region]struct{})
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		r := models.Region(line)
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}
