package scanner

import (
	"context"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"

	"vigil/config"
	"vigil/logger"
	"vigil/output"
	"vigil/utils"
)

type fileScanTask struct {
	path string
	info os.FileInfo
}

// ScanFiles walks every start path and feeds candidate files through the
// detection engine on a worker pool. The walk, the workers, and the
// behavioral backends all stop when the context is cancelled.
func ScanFiles(ctx context.Context, cfg *config.Config, engine *Engine, metrics *output.Metrics, w *output.Writer) error {
	adjustConcurrency(cfg)

	matcher := utils.NewPatternMatcher(cfg.IncludePatterns, cfg.ExcludePatterns)
	walk := fastWalker{}

	totalFiles := 0
	var bar *progressbar.ProgressBar
	if cfg.SkipCount {
		logger.Info("Skipping total file count")
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning files"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetVisibility(progressVisible()),
			progressbar.OptionFullWidth(),
		)
	} else {
		logger.Info("Counting total number of files...")
		for _, startPath := range cfg.StartPaths {
			count, err := countTotalFiles(ctx, startPath, cfg, matcher, walk)
			if err != nil {
				logger.Warnf("Failed to count files in %s: %v", startPath, err)
				continue
			}
			totalFiles += count
		}
		logger.Infof("Total files to scan: %d", totalFiles)
		metrics.TotalFiles = totalFiles

		bar = progressbar.NewOptions(totalFiles,
			progressbar.OptionSetDescription("Scanning files"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionSetVisibility(progressVisible()),
			progressbar.OptionFullWidth(),
		)
	}

	var ioLimiter *rate.Limiter
	if cfg.MaxIOPerSecond > 0 {
		ioLimiter = rate.NewLimiter(rate.Limit(cfg.MaxIOPerSecond), cfg.MaxIOPerSecond)
	}

	filesChan := make(chan fileScanTask, cfg.ConcurrencyLevel)

	go func() {
		defer close(filesChan)
		for _, startPath := range cfg.StartPaths {
			err := walk.Walk(ctx, startPath, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					logger.Warnf("Failed to access %s: %v", path, err)
					return nil
				}
				if d == nil {
					return nil
				}

				if d.IsDir() {
					if path != startPath {
						if !cfg.Recursive {
							return fs.SkipDir
						}
						if !cfg.IncludeHidden && isHiddenName(d.Name()) {
							return fs.SkipDir
						}
					}
					return nil
				}
				if !cfg.IncludeHidden && isHiddenName(d.Name()) {
					return nil
				}
				if !matcher.ShouldInclude(path) {
					return nil
				}

				info, err := d.Info()
				if err == nil && cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case filesChan <- fileScanTask{path: path, info: info}:
					if ioLimiter != nil {
						if err := ioLimiter.Wait(ctx); err != nil {
							return err
						}
					}
				}
				return nil
			})
			if err != nil && err != context.Canceled {
				logger.Warnf("Error walking path %s: %v", startPath, err)
			}
		}
	}()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for nw := 0; nw < cfg.ConcurrencyLevel; nw++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range filesChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if !utils.IsPathWithin(task.path, cfg.StartPaths) {
					logger.Warnf("Skipping file outside target paths: %s", task.path)
					continue
				}
				finding := engine.ScanFile(ctx, task.path, task.info)
				w.Write(finding)
				_ = bar.Add(1)

				mu.Lock()
				metrics.FilesScanned++
				tally(metrics, finding)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	if cfg.SkipCount {
		metrics.TotalFiles = metrics.FilesScanned
	}
	metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
	return ctx.Err()
}

func tally(m *output.Metrics, f *Finding) {
	if f.ScanError {
		m.ScanErrors++
		return
	}
	if !f.IsDetected() {
		return
	}
	m.Detections++
	switch f.ThreatLevel {
	case LevelMalicious:
		m.Malicious++
	case LevelSuspicious:
		m.Suspicious++
	}
	if f.QuarantineID != "" {
		m.Quarantined++
	}
}

func countTotalFiles(ctx context.Context, startPath string, cfg *config.Config, matcher *utils.PatternMatcher, walk fastWalker) (int, error) {
	var total int
	err := walk.Walk(ctx, startPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warnf("Failed to access %s: %v", path, err)
			return nil
		}
		if d == nil {
			return nil
		}
		if d.IsDir() {
			if path != startPath {
				if !cfg.Recursive {
					return fs.SkipDir
				}
				if !cfg.IncludeHidden && isHiddenName(d.Name()) {
					return fs.SkipDir
				}
			}
			return nil
		}
		if !cfg.IncludeHidden && isHiddenName(d.Name()) {
			return nil
		}
		if !matcher.ShouldInclude(path) {
			return nil
		}
		info, err := d.Info()
		if err == nil && cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
			return nil
		}
		total++
		return nil
	})
	return total, err
}

func adjustConcurrency(cfg *config.Config) {
	if cfg.ConcurrencySet {
		return
	}
	numCPU := runtime.NumCPU()
	switch cfg.NiceLevel {
	case "high":
		cfg.ConcurrencyLevel = numCPU
	case "medium":
		cfg.ConcurrencyLevel = numCPU / 2
		if cfg.ConcurrencyLevel < 1 {
			cfg.ConcurrencyLevel = 1
		}
	case "low":
		cfg.ConcurrencyLevel = 1
	}

	// Tight-memory hosts get fewer workers regardless of CPU count; each
	// worker can hold a multi-megabyte analysis sample in flight.
	if vm, err := mem.VirtualMemory(); err == nil {
		totalGB := vm.Total / (1024 * 1024 * 1024)
		switch {
		case totalGB <= 4 && cfg.ConcurrencyLevel > 2:
			cfg.ConcurrencyLevel = 2
		case totalGB <= 8 && cfg.ConcurrencyLevel > 4:
			cfg.ConcurrencyLevel = 4
		}
	}
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("VIGIL_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
