package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultCompressionThreshold is the serialized size above which artifacts
// are gzip-compressed.
const DefaultCompressionThreshold = 1 << 20

//go:embed artifact.schema.json
var artifactSchema []byte

var gzipMagic = []byte{0x1f, 0x8b}

// Document is the single artifact written per module.
type Document struct {
	Module       string                      `json:"module"`
	ExportedAt   time.Time                   `json:"exported_at"`
	TotalRecords int64                       `json:"total_records"`
	Tables       map[string][]map[string]any `json:"tables"`
}

// ArtifactName is <module>_<UTC yyyymmddThhmmssZ> plus .json or .json.gz.
func ArtifactName(module string, exportedAt time.Time, compressed bool) string {
	name := fmt.Sprintf("%s_%s.json", module, exportedAt.UTC().Format("20060102T150405Z"))
	if compressed {
		name += ".gz"
	}
	return name
}

// WriteArtifact serializes doc into dir, compressing when the serialized
// document is larger than threshold. The file appears atomically. It returns
// the final path and the number of bytes on disk.
func WriteArtifact(dir string, doc *Document, threshold int64) (string, int64, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal module %s: %w", doc.Module, err)
	}

	compressed := int64(len(data)) > threshold
	path := filepath.Join(dir, ArtifactName(doc.Module, doc.ExportedAt, compressed))

	if compressed {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Name = strings.TrimSuffix(filepath.Base(path), ".gz")
		zw.ModTime = doc.ExportedAt
		if _, err := zw.Write(data); err != nil {
			return "", 0, &IOError{Path: path, Op: "compress", Err: err}
		}
		if err := zw.Close(); err != nil {
			return "", 0, &IOError{Path: path, Op: "compress", Err: err}
		}
		data = buf.Bytes()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, &IOError{Path: path, Op: "create directory for", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", 0, &IOError{Path: path, Op: "write", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", 0, &IOError{Path: path, Op: "save", Err: err}
	}
	return path, int64(len(data)), nil
}

// ReadArtifact loads an artifact, detecting compression from the gzip magic
// bytes rather than the file name, and validates it against the artifact
// schema.
func ReadArtifact(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Op: "read", Err: err}
	}

	if IsCompressed(raw) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, &IOError{Path: path, Op: "decompress", Err: err}
		}
		defer func() { _ = zr.Close() }()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, &IOError{Path: path, Op: "decompress", Err: err}
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(artifactSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate artifact %s: %w", path, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("artifact %s is not valid: %s", path, strings.Join(msgs, "; "))
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	return &doc, nil
}

// IsCompressed reports whether data starts with the gzip magic bytes.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}
