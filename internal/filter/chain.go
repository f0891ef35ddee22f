package filter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Chain applies loaded filters to transcript text in priority order. A
// failing filter is skipped with a warning; the remaining filters still
// run on the unmodified input.
type Chain struct {
	filters []*Filter
	log     *slog.Logger
}

// LoadChain scans dir for *.yaml manifests and loads each filter. Filters
// that fail to load are skipped so one broken package cannot disable
// dictation.
func LoadChain(ctx context.Context, rt *Runtime, dir string, logger *slog.Logger) (*Chain, error) {
	log := logger.With(slog.String("component", "filter"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read filter directory: %w", err)
	}

	var filters []*Filter
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		m, err := LoadManifest(path)
		if err != nil {
			log.Warn("skipping filter manifest", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if !filepath.IsAbs(m.Runtime.Module) {
			m.Runtime.Module = filepath.Join(dir, m.Runtime.Module)
		}
		f, err := rt.Load(ctx, m)
		if err != nil {
			log.Warn("skipping filter", slog.String("name", m.Metadata.Name), slog.String("error", err.Error()))
			continue
		}
		log.Info("filter loaded",
			slog.String("name", m.Metadata.Name),
			slog.String("version", m.Metadata.Version),
			slog.Int("priority", m.Priority))
		filters = append(filters, f)
	}

	sort.SliceStable(filters, func(i, j int) bool {
		return filters[i].Manifest.Priority < filters[j].Manifest.Priority
	})
	return &Chain{filters: filters, log: log}, nil
}

// Len reports the number of loaded filters.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.filters)
}

// Apply runs text through every filter in order.
func (c *Chain) Apply(ctx context.Context, text string) (string, error) {
	if c == nil {
		return text, nil
	}
	for _, f := range c.filters {
		out, err := f.Transform(ctx, text)
		if err != nil {
			c.log.Warn("filter failed",
				slog.String("name", f.Manifest.Metadata.Name),
				slog.String("error", err.Error()))
			continue
		}
		text = out
	}
	return text, nil
}

// Close releases all loaded filters.
func (c *Chain) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var firstErr error
	for _, f := range c.filters {
		if err := f.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
