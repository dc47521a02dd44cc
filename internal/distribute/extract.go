package distribute

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kiosk/internal/faults"
)

// ExtractArchive unpacks src into destDir and returns the paths of the
// regular files it wrote. The archive kind comes from logicalName, since
// staged payloads carry a synthetic filename. Entries that would land
// outside destDir fail the whole archive; symlinks and special entries are
// dropped.
func ExtractArchive(src, logicalName, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}

	name := strings.ToLower(logicalName)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(src, destDir)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTarball(src, destDir)
	default:
		return nil, faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "unsupported archive type "+filepath.Ext(logicalName), nil)
	}
}

func extractZip(src, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return nil, faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "open zip", err)
	}
	defer reader.Close()

	var files []string
	for _, entry := range reader.File {
		target, err := entryTarget(destDir, entry.Name)
		if err != nil {
			return nil, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create dir %s: %w", entry.Name, err)
			}
			continue
		}
		in, err := entry.Open()
		if err != nil {
			return nil, faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "open entry "+entry.Name, err)
		}
		err = writeEntry(target, in)
		in.Close()
		if err != nil {
			return nil, faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "write entry "+entry.Name, err)
		}
		files = append(files, target)
	}
	return files, nil
}

func extractTarball(src, destDir string) ([]string, error) {
	file, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "open gzip stream", err)
	}
	defer gz.Close()

	var files []string
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "read tar stream", err)
		}

		target, err := entryTarget(destDir, header.Name)
		if err != nil {
			return nil, err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return nil, faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "write entry "+header.Name, err)
			}
			files = append(files, target)
		}
	}
	return files, nil
}

func entryTarget(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "entry escapes archive root: "+name, nil)
	}
	return filepath.Join(destDir, cleaned), nil
}

func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
