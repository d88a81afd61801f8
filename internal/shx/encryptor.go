package shx

import "io"

// Encryptor protects store snapshots before they leave the machine.
// Encryption needs only the public key. Decryption needs the passphrase to
// unlock the private key, which yields a DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `shx config init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether keys are in place.
	IsConfigured() bool

	// NeedsPassphrase reports whether Unlock and Setup use the passphrase.
	NeedsPassphrase() bool
}

// DecryptionContext holds an unlocked private key in memory. The key is never
// written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
