package encryption

import (
	"bytes"
	"fmt"
	"io"

	"shx-go/internal/shx"
)

// testHeader marks TestEncryptor output so it never equals the plaintext.
var testHeader = []byte("SHXENC\x00\x01")

// TestEncryptor is a deterministic, reversible stand-in for tests and for
// exercising the snapshot path without keys.
type TestEncryptor struct {
	setupCalled bool
}

var _ shx.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (shx.DecryptionContext, error) {
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool    { return true }
func (e *TestEncryptor) NeedsPassphrase() bool { return false }

// TestDecryptionContext strips the header added by TestEncryptor.
type TestDecryptionContext struct{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
