package sha256

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestBytes(t *testing.T) {
	t.Parallel()

	if got := Bytes([]byte("hello")); got != helloDigest {
		t.Fatalf("Bytes(hello) = %s", got)
	}
}

func TestDigestMatchesBytes(t *testing.T) {
	t.Parallel()

	d := NewDigest()
	if _, err := io.Copy(d, io.TeeReader(strings.NewReader("hello"), io.Discard)); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if d.Hex() != helloDigest {
		t.Fatalf("Digest.Hex() = %s", d.Hex())
	}
}

func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if got != helloDigest {
		t.Fatalf("File() = %s", got)
	}
	if _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
