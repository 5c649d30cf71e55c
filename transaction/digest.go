package transaction

import (
	"bytes"
	"io"
	"os"

	"github.com/urpm-project/urpm"
)

// verifyDigest reports whether the file at path hashes to want's checksum
// under want's declared algorithm (spec.md §4.4's digest verification).
func verifyDigest(path string, want urpm.Digest) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := want.Hash()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return bytes.Equal(h.Sum(nil), want.Checksum()), nil
}
