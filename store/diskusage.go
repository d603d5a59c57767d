package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/omalloc/precache/internal/constants"
	"github.com/omalloc/precache/pkg/logging"
)

// DiskUsage decides how much cached data may stay on disk. Touch is called
// whenever an artifact is used; implementations evict least-recently-used
// artifacts from the artifact's directory until the policy is satisfied.
type DiskUsage interface {
	Touch(path string) error
}

type artifact struct {
	path  string
	size  int64
	mtime time.Time
}

// overflow returns the artifacts to evict. files are sorted oldest first
// and contain only finished artifacts.
type overflowFunc func(dir string, files []artifact) []artifact

type lruUsage struct {
	log      *zap.SugaredLogger
	overflow overflowFunc
	reason   string
}

func (r *lruUsage) Touch(path string) error {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	for _, victim := range r.overflow(dir, scanArtifacts(dir)) {
		if err := os.Remove(victim.path); err != nil {
			r.log.Warnw("evict failed", "artifact", victim.path, "error", err)
			continue
		}
		r.log.Infow("evicted artifact",
			"artifact", victim.path,
			"size", humanize.Bytes(uint64(victim.size)),
			"reason", r.reason,
		)
	}
	return nil
}

func scanArtifacts(dir string) []artifact {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	files := make([]artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), constants.DownloadSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, artifact{
			path:  filepath.Join(dir, e.Name()),
			size:  info.Size(),
			mtime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].mtime.Before(files[j].mtime)
	})
	return files
}

// Unlimited never evicts.
func Unlimited() DiskUsage {
	return &lruUsage{
		log:      logging.Nop(),
		reason:   "",
		overflow: func(string, []artifact) []artifact { return nil },
	}
}

// LimitTotalSize keeps the combined artifact size under max bytes.
func LimitTotalSize(max int64, log *zap.SugaredLogger) DiskUsage {
	if log == nil {
		log = logging.Nop()
	}
	return &lruUsage{
		log:    log,
		reason: "total-size",
		overflow: func(_ string, files []artifact) []artifact {
			total := lo.SumBy(files, func(a artifact) int64 { return a.size })

			var victims []artifact
			for _, f := range files {
				if total <= max {
					break
				}
				victims = append(victims, f)
				total -= f.size
			}
			return victims
		},
	}
}

// LimitTotalCount keeps at most max artifacts.
func LimitTotalCount(max int, log *zap.SugaredLogger) DiskUsage {
	if log == nil {
		log = logging.Nop()
	}
	return &lruUsage{
		log:    log,
		reason: "total-count",
		overflow: func(_ string, files []artifact) []artifact {
			if len(files) <= max {
				return nil
			}
			return files[:len(files)-max]
		},
	}
}

// LimitMinFree evicts until the cache volume has at least min bytes free.
func LimitMinFree(min uint64, log *zap.SugaredLogger) DiskUsage {
	if log == nil {
		log = logging.Nop()
	}
	return &lruUsage{
		log:    log,
		reason: "min-free",
		overflow: func(dir string, files []artifact) []artifact {
			usage, err := disk.Usage(dir)
			if err != nil || usage.Free >= min {
				return nil
			}

			reclaim := int64(min - usage.Free)
			var victims []artifact
			for _, f := range files {
				if reclaim <= 0 {
					break
				}
				victims = append(victims, f)
				reclaim -= f.size
			}
			return victims
		},
	}
}
