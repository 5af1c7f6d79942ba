// Package compression inspects downloaded package archives
package compression

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	// ContentTypeZip is the media type of authority packages
	ContentTypeZip = "application/zip"
)

// zipMagic starts every local file header
var zipMagic = []byte("PK\x03\x04")

// Entry describes one file in a package
type Entry struct {
	Name             string
	Size             uint64
	CompressedSize   uint64
	CRC32            uint32
	IsDocument       bool
	IsMetadataReport bool
}

// Manifest summarizes a package archive
type Manifest struct {
	Entries []Entry
	// Documents counts XML invoices
	Documents int
	// MetadataReports counts metadata text reports
	MetadataReports int
	TotalSize       uint64
}

// Names returns the entry names in archive order
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		names = append(names, e.Name)
	}
	return names
}

// IsZip reports whether data starts like a zip archive
func IsZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// Inspect lists the archive and reads every entry to verify its checksum
func Inspect(data []byte) (*Manifest, error) {
	if !IsZip(data) {
		return nil, fmt.Errorf("package is not a zip archive")
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}

	m := &Manifest{}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := verify(f); err != nil {
			return nil, err
		}

		ext := strings.ToLower(path.Ext(f.Name))
		e := Entry{
			Name:             f.Name,
			Size:             f.UncompressedSize64,
			CompressedSize:   f.CompressedSize64,
			CRC32:            f.CRC32,
			IsDocument:       ext == ".xml",
			IsMetadataReport: ext == ".txt",
		}
		if e.IsDocument {
			m.Documents++
		}
		if e.IsMetadataReport {
			m.MetadataReports++
		}
		m.TotalSize += e.Size
		m.Entries = append(m.Entries, e)
	}
	return m, nil
}

// verify reads f to the end; the reader checks the CRC at EOF
func verify(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return nil
}
