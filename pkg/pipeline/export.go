package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
)

// ExportName is the file name an artifact gets inside an export archive.
func ExportName(name string) string {
	if name == KeyCode {
		return "code.c"
	}
	if IsText(name) {
		return name + ".txt"
	}
	return name + ".json"
}

// Export writes a zip archive with one file per present artifact, in
// pipeline order, followed by the diagnostics.
func (s *Store) Export(w io.Writer) error {
	type entry struct {
		name string
		data []byte
	}
	s.mu.Lock()
	var entries []entry
	for _, name := range ArtifactNames() {
		if data, ok := s.artifact(name); ok {
			entries = append(entries, entry{ExportName(name), data})
		}
	}
	s.mu.Unlock()

	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := writeZipEntry(zw, e.name, e.data); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}
