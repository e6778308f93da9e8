// Package zip builds in-memory archives of generated pin assets.
package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// Asset is one file inside an archive.
type Asset struct {
	Filename string
	Data     []byte
	Modified time.Time
}

// Write streams assets into w as a zip archive. Duplicate or empty names are
// rejected so a bundle never silently loses a file.
func Write(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		if asset.Filename == "" {
			return errors.New("zip: empty filename")
		}
		if _, dup := seen[asset.Filename]; dup {
			return fmt.Errorf("zip: duplicate filename %q", asset.Filename)
		}
		seen[asset.Filename] = struct{}{}

		header := &zip.FileHeader{Name: asset.Filename, Method: zip.Deflate}
		if !asset.Modified.IsZero() {
			header.Modified = asset.Modified
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	return zw.Close()
}

// ArchiveAssets returns the archive bytes for assets.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, assets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
