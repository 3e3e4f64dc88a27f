// Package harvest walks a region tile by tile, asking the tower registry how
// many rows each tile holds and paging through them into a single CSV.
package harvest

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/connectivity-cli/internal/geo"
)

// Registry is the tower registry's area API.
type Registry interface {
	Count(ctx context.Context, box geo.BBox) (int, error)
	Page(ctx context.Context, box geo.BBox, limit, offset int) (string, error)
}

// Options configures a harvest run.
type Options struct {
	Region   geo.BBox
	StepLat  float64
	StepLon  float64
	PageSize int
}

// Stats summarizes a harvest run.
type Stats struct {
	Tiles         int
	TilesWithHits int
	CountFailures int
	Pages         int
	PageFailures  int
	Rows          int
}

// Harvester accumulates registry rows for a region.
type Harvester struct {
	registry Registry
	opts     Options
	log      *zap.Logger
}

// New creates a Harvester.
func New(registry Registry, opts Options) (*Harvester, error) {
	if opts.PageSize <= 0 {
		return nil, eris.New("harvest: page size must be positive")
	}
	return &Harvester{
		registry: registry,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "harvest")),
	}, nil
}

// PageCount is the number of pages needed for count rows.
func PageCount(count, pageSize int) int {
	if count <= 0 || pageSize <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

// RunToFile harvests into path, creating or truncating it.
func (h *Harvester) RunToFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Create(path)
	if err != nil {
		return Stats{}, eris.Wrapf(err, "harvest: create %s", path)
	}

	stats, runErr := h.Run(ctx, f)
	if err := f.Close(); err != nil && runErr == nil {
		runErr = eris.Wrapf(err, "harvest: close %s", path)
	}
	return stats, runErr
}

// Run harvests every tile of the region and writes one CSV to w. The header
// is taken from the first non-empty page; headers on later pages are dropped.
// Count and page failures are logged and skipped.
func (h *Harvester) Run(ctx context.Context, w io.Writer) (Stats, error) {
	tiles, err := h.opts.Region.Grid(h.opts.StepLat, h.opts.StepLon)
	if err != nil {
		return Stats{}, eris.Wrap(err, "harvest: build grid")
	}

	h.log.Info("starting harvest",
		zap.String("region", h.opts.Region.String()),
		zap.Int("tiles", len(tiles)),
		zap.Int("page_size", h.opts.PageSize),
	)

	out := csv.NewWriter(w)
	headerWritten := false
	var stats Stats

	for i, tile := range tiles {
		if err := ctx.Err(); err != nil {
			out.Flush()
			return stats, eris.Wrap(err, "harvest: cancelled")
		}
		stats.Tiles++

		count, err := h.registry.Count(ctx, tile)
		if err != nil {
			stats.CountFailures++
			h.log.Warn("count failed, skipping tile", zap.String("bbox", tile.String()), zap.Error(err))
			continue
		}
		if count == 0 {
			continue
		}
		stats.TilesWithHits++

		pages := PageCount(count, h.opts.PageSize)
		h.log.Info("tile has rows",
			zap.Int("tile", i+1),
			zap.Int("of", len(tiles)),
			zap.String("bbox", tile.String()),
			zap.Int("count", count),
			zap.Int("pages", pages),
		)

		for p := range pages {
			offset := p * h.opts.PageSize
			body, err := h.registry.Page(ctx, tile, h.opts.PageSize, offset)
			if err != nil {
				stats.PageFailures++
				h.log.Warn("page failed, skipping",
					zap.String("bbox", tile.String()),
					zap.Int("offset", offset),
					zap.Error(err),
				)
				continue
			}
			stats.Pages++

			header, rows, err := parsePage(body)
			if err != nil {
				stats.PageFailures++
				h.log.Warn("unparsable page, skipping",
					zap.String("bbox", tile.String()),
					zap.Int("offset", offset),
					zap.Error(err),
				)
				continue
			}
			if header == nil {
				continue
			}
			if !headerWritten {
				if err := out.Write(header); err != nil {
					return stats, eris.Wrap(err, "harvest: write header")
				}
				headerWritten = true
			}
			for _, row := range rows {
				if err := out.Write(row); err != nil {
					return stats, eris.Wrap(err, "harvest: write row")
				}
			}
			stats.Rows += len(rows)
		}
		out.Flush()
		if err := out.Error(); err != nil {
			return stats, eris.Wrap(err, "harvest: flush")
		}
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return stats, eris.Wrap(err, "harvest: flush")
	}

	h.log.Info("harvest complete",
		zap.Int("tiles", stats.Tiles),
		zap.Int("tiles_with_hits", stats.TilesWithHits),
		zap.Int("count_failures", stats.CountFailures),
		zap.Int("pages", stats.Pages),
		zap.Int("page_failures", stats.PageFailures),
		zap.Int("rows", stats.Rows),
	)
	return stats, nil
}

// parsePage splits a CSV page into its header and data rows. Blank lines are
// ignored. A page with no non-blank lines returns a nil header.
func parsePage(body string) ([]string, [][]string, error) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "scan page")
	}
	if len(lines) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrap(err, "parse page")
	}
	return records[0], records[1:], nil
}
