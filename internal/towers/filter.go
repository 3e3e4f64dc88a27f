package towers

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultMCC is Barbados' mobile country code.
const DefaultMCC = "342"

// FilterStats summarizes a filter run.
type FilterStats struct {
	Read int
	Kept int
}

// FilterByMCC copies the header and every row whose mcc column equals mcc
// from r to w. It streams, so full registry dumps never sit in memory.
func FilterByMCC(r io.Reader, w io.Writer, mcc string) (FilterStats, error) {
	var stats FilterStats
	mcc = strings.TrimSpace(mcc)

	in := csv.NewReader(r)
	in.FieldsPerRecord = -1
	in.ReuseRecord = true

	header, err := in.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, eris.New("towers: input is empty")
		}
		return stats, eris.Wrap(err, "towers: read header")
	}

	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "mcc") {
			col = i
			break
		}
	}
	if col < 0 {
		return stats, eris.New("towers: input has no mcc column")
	}

	out := csv.NewWriter(w)
	if err := out.Write(header); err != nil {
		return stats, eris.Wrap(err, "towers: write header")
	}

	for {
		rec, err := in.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, eris.Wrapf(err, "towers: read row %d", stats.Read+2)
		}
		stats.Read++
		if col >= len(rec) || strings.TrimSpace(rec[col]) != mcc {
			continue
		}
		if err := out.Write(rec); err != nil {
			return stats, eris.Wrap(err, "towers: write row")
		}
		stats.Kept++
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return stats, eris.Wrap(err, "towers: flush")
	}
	return stats, nil
}

// FilterFile applies FilterByMCC from inPath to outPath.
func FilterFile(inPath, outPath, mcc string) (FilterStats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return FilterStats{}, eris.Wrapf(err, "towers: open %s", inPath)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(outPath)
	if err != nil {
		return FilterStats{}, eris.Wrapf(err, "towers: create %s", outPath)
	}

	stats, err := FilterByMCC(in, out, mcc)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = eris.Wrapf(cerr, "towers: close %s", outPath)
	}
	if err != nil {
		return stats, err
	}

	zap.L().Info("filtered towers",
		zap.String("in", inPath),
		zap.String("out", outPath),
		zap.String("mcc", mcc),
		zap.Int("read", stats.Read),
		zap.Int("kept", stats.Kept),
	)
	return stats, nil
}
