package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// fileDigest computes a streaming SHA-256 digest of a file and returns
// it with the file size.
func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
