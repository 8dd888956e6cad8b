package bundle

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EntryFile is the file a remote publishes as its entry point
const EntryFile = "remoteEntry.go"

// contentDigest returns the xxhash digest used for content without a
// natural identifier
func contentDigest(prefix string, content []byte) string {
	return fmt.Sprintf("%s:%x", prefix, xxhash.Sum64(content))
}

// readEntry reads name from fsys. A directory resolves to its EntryFile.
func readEntry(fsys fs.FS, name string) ([]byte, error) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = "."
	}

	info, err := fs.Stat(fsys, name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		name = path.Join(name, EntryFile)
	}

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}
	return content, nil
}

// pickEntry chooses the shallowest EntryFile among archive members
func pickEntry(names []string) (string, bool) {
	best := ""
	for _, n := range names {
		if path.Base(n) != EntryFile {
			continue
		}
		if best == "" || strings.Count(n, "/") < strings.Count(best, "/") {
			best = n
		}
	}
	return best, best != ""
}

// extractEntryFromZip extracts the remote entry from a ZIP archive
func extractEntryFromZip(data []byte) ([]byte, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP archive: %w", err)
	}

	var names []string
	for _, file := range zipReader.File {
		if !file.FileInfo().IsDir() {
			names = append(names, file.Name)
		}
	}

	name, ok := pickEntry(names)
	if !ok {
		return nil, fmt.Errorf("no %s found in ZIP archive", EntryFile)
	}

	rc, err := zipReader.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return content, nil
}

// extractEntryFromTarGzip extracts the remote entry from a tar.gz archive
func extractEntryFromTarGzip(data []byte) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	files := make(map[string][]byte)
	var names []string
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar: %w", err)
		}

		if header.Typeflag != tar.TypeReg || path.Base(header.Name) != EntryFile {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		files[header.Name] = content
		names = append(names, header.Name)
	}

	name, ok := pickEntry(names)
	if !ok {
		return nil, fmt.Errorf("no %s found in tar.gz archive", EntryFile)
	}
	return files[name], nil
}
