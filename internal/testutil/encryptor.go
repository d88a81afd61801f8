package testutil

import (
	"shx-go/internal/encryption"
)

// NewTestEncryptor creates a deterministic, passphrase-free encryptor.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
