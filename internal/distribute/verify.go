package distribute

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kiosk/internal/faults"
)

const sha256HexLen = 64

// VerifyFile streams the file through the digest named by spec and compares
// hex digests case-insensitively. Accepted forms are "sha256:<hex>",
// "md5:<hex>", and bare hex, where 64 characters selects sha256 and anything
// else md5 to stay compatible with the fleet's older md5-only payloads.
func VerifyFile(path, spec string) error {
	algo, want, err := parseChecksum(spec)
	if err != nil {
		return err
	}
	got, err := hashFile(path, algo)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return faults.Wrap(faults.ErrCorruptPayload, "distribute", "verify", fmt.Sprintf("%s mismatch for %s: got %s want %s", algo, filepath.Base(path), got, strings.ToLower(want)), nil)
	}
	return nil
}

func parseChecksum(spec string) (string, string, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return "", "", faults.Wrap(faults.ErrCorruptPayload, "distribute", "verify", "empty checksum", nil)
	}

	algo := ""
	value := raw
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		algo = strings.ToLower(strings.TrimSpace(raw[:idx]))
		value = strings.TrimSpace(raw[idx+1:])
	}

	switch algo {
	case "sha256", "md5":
	case "":
		if len(value) == sha256HexLen {
			algo = "sha256"
		} else {
			algo = "md5"
		}
	default:
		return "", "", faults.Wrap(faults.ErrCorruptPayload, "distribute", "verify", "unsupported checksum algorithm "+algo, nil)
	}
	return algo, value, nil
}

func hashFile(path, algo string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for verification: %w", err)
	}
	defer file.Close()

	var digest hash.Hash
	if algo == "md5" {
		digest = md5.New()
	} else {
		digest = sha256.New()
	}
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
