package encryption

import (
	"io"

	"shx-go/internal/shx"
)

// PlainEncryptor stores snapshots as-is. Selected by type "none".
type PlainEncryptor struct{}

var _ shx.Encryptor = PlainEncryptor{}

func (PlainEncryptor) Setup(string) error { return nil }

func (PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (PlainEncryptor) Unlock(string) (shx.DecryptionContext, error) {
	return plainContext{}, nil
}

func (PlainEncryptor) IsConfigured() bool    { return true }
func (PlainEncryptor) NeedsPassphrase() bool { return false }

type plainContext struct{}

func (plainContext) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
