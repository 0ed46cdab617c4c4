// Package sha256 provides SHA-256 digests of artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Digest accumulates a SHA-256 over bytes written to it, typically as the
// second leg of an io.TeeReader.
type Digest struct {
	h hash.Hash
}

// NewDigest returns an empty Digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Hex returns the digest of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Bytes hashes data and returns a hex digest.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// File streams the file at path through SHA-256.
func File(path string) (string, error) {
	// #nosec G304 -- artifact paths are produced by the artifact store.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	d := NewDigest()
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return d.Hex(), nil
}
