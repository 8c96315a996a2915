package keystore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	receiptKeyFile  = "receipt_key.pem"
	paillierKeyFile = "paillier_key.json"

	// Key files are well under this size
	maxKeyFileSize = 1 << 20
)

// ErrInsecureFileMode is returned for key files readable by group or other
var ErrInsecureFileMode = errors.New("insecure key file mode")

// readKeyFile reads a private key file, checking permissions on the open
// handle so the check and the read see the same file.
func readKeyFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat key file %q: %w", path, err)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf(
			"key file %q has mode %04o, group/other access not permitted: %w",
			path,
			fi.Mode().Perm(),
			ErrInsecureFileMode,
		)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	return data, nil
}

// writeKeyFile writes data with mode 0600 via a temp file and rename
func writeKeyFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set key file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install key file %q: %w", path, err)
	}
	return nil
}
