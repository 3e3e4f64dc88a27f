// Package export writes and checks the GeoJSON FeatureCollection documents
// produced by the pipeline.
package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// EmptyCollection is written when no unit qualifies for a document.
const EmptyCollection = `{"type":"FeatureCollection","features":[]}`

type envelope struct {
	Type     string          `json:"type"`
	Features json.RawMessage `json:"features"`
}

// Normalize turns the database rendering of a collection into the bytes to
// write. Empty output, a JSON null and a null features list all become
// EmptyCollection. Anything that is not a FeatureCollection is an error.
func Normalize(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []byte(EmptyCollection), nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(err, "export: decode collection")
	}
	if env.Type != "FeatureCollection" {
		return nil, eris.Errorf("export: expected FeatureCollection, got %q", env.Type)
	}

	features := bytes.TrimSpace(env.Features)
	if len(features) == 0 || bytes.Equal(features, []byte("null")) {
		return []byte(EmptyCollection), nil
	}
	if features[0] != '[' {
		return nil, eris.New("export: features is not an array")
	}
	return raw, nil
}

// WriteFile writes a normalized document to path with a trailing newline,
// creating the parent directory and replacing any previous file.
func WriteFile(path string, raw []byte) error {
	doc, err := Normalize(raw)
	if err != nil {
		return eris.Wrapf(err, "export: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create directory %s", dir)
		}
	}

	doc = append(doc, '\n')
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}
