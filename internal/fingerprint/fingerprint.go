package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Missing is the fingerprint recorded for a protected file that does not
// exist in the inspected working tree. It is distinct from the digest of an
// empty file (which is the SHA-256 of zero bytes, a 64-character hex string).
const Missing = ""

// File computes the SHA-256 digest of the file at rel inside root.
// The file is read in bounded chunks so arbitrarily large files never get
// buffered whole. A file that does not exist fingerprints to Missing with a
// nil error; any other read failure is returned to the caller.
func File(root, rel string) (string, error) {
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Missing, nil
		}
		return "", fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Files fingerprints every path in paths relative to root. The returned map
// has exactly one entry per requested path; absent files map to Missing.
func Files(root string, paths []string) (map[string]string, error) {
	digests := make(map[string]string, len(paths))
	for _, p := range paths {
		d, err := File(root, p)
		if err != nil {
			return nil, err
		}
		digests[p] = d
	}
	return digests, nil
}

// Bytes returns the SHA-256 hex digest of b. It is used to compare compiled
// CI configuration texts without keeping both around for a raw string
// comparison.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
