package export

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Sample holds the properties shown for one feature of a QA report.
type Sample struct {
	Key           any
	AvgDownload   any
	AvgUpload     any
	GeometryType  string
	PropertyCount int
}

// Report is the result of inspecting one exported document.
type Report struct {
	Path     string
	Features int
	Samples  []Sample
}

// Inspect reads an exported document and checks that it is a
// FeatureCollection whose features all carry polygonal geometry. It returns
// the feature count and the key and throughput properties of the first
// sample features.
func Inspect(path, key string, sample int) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: read %s", path)
	}
	return inspect(path, data, key, sample)
}

func inspect(path string, data []byte, key string, sample int) (*Report, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, eris.Wrapf(err, "export: %s is not valid JSON", path)
	}
	features := bytes.TrimSpace(env.Features)
	if len(features) == 0 || bytes.Equal(features, []byte("null")) {
		return nil, eris.Errorf("export: %s has no features list", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "export: decode %s", path)
	}

	rep := &Report{Path: path, Features: len(fc.Features)}
	for i, f := range fc.Features {
		kind, err := polygonal(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "export: %s feature %d", path, i)
		}
		if i >= sample {
			continue
		}
		rep.Samples = append(rep.Samples, Sample{
			Key:           f.Properties[key],
			AvgDownload:   f.Properties["avg_download_kbps"],
			AvgUpload:     f.Properties["avg_upload_kbps"],
			GeometryType:  kind,
			PropertyCount: len(f.Properties),
		})
	}
	return rep, nil
}

func polygonal(g geom.T) (string, error) {
	switch g.(type) {
	case *geom.Polygon:
		return "Polygon", nil
	case *geom.MultiPolygon:
		return "MultiPolygon", nil
	case nil:
		return "", eris.New("missing geometry")
	default:
		return "", eris.Errorf("unexpected geometry %T", g)
	}
}
