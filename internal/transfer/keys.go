package transfer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Key file permissions.
const (
	privateKeyPerm = 0o600
	publicKeyPerm  = 0o644
	keyDirPerm     = 0o700
)

// keyComment is appended to the generated public key.
const keyComment = "tower"

// EnsureKeyPair makes sure an ed25519 key pair exists at path (private key)
// and path+".pub" (public key), generating one when the private key is
// missing. It returns the public key in authorized_keys format and whether
// a new pair was created.
func EnsureKeyPair(path string) (authorizedKey string, created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		line, err := authorizedKeyFor(path)
		return line, false, err
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", false, fmt.Errorf("transfer: checking key %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", false, fmt.Errorf("transfer: generating key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, keyComment)
	if err != nil {
		return "", false, fmt.Errorf("transfer: encoding private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", false, fmt.Errorf("transfer: encoding public key: %w", err)
	}

	line := authorizedLine(sshPub)

	if err := os.MkdirAll(filepath.Dir(path), keyDirPerm); err != nil {
		return "", false, fmt.Errorf("transfer: creating key directory: %w", err)
	}

	if err := writeKeyFile(path, pem.EncodeToMemory(block), privateKeyPerm); err != nil {
		return "", false, err
	}

	if err := writeKeyFile(path+".pub", []byte(line+"\n"), publicKeyPerm); err != nil {
		return "", false, err
	}

	return line, true, nil
}

// authorizedKeyFor derives the authorized_keys line from an existing private
// key, so a missing or stale .pub file does not matter.
func authorizedKeyFor(path string) (string, error) {
	signer, err := loadSigner(path)
	if err != nil {
		return "", err
	}

	return authorizedLine(signer.PublicKey()), nil
}

func authorizedLine(pub ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))) + " " + keyComment
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transfer: reading key %s: %w", path, err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("transfer: parsing key %s: %w", path, err)
	}

	return signer, nil
}

// writeKeyFile creates path exclusively; an existing file is never
// overwritten.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("transfer: creating %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("transfer: writing %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("transfer: closing %s: %w", path, err)
	}

	// OpenFile applies the umask; set the mode explicitly.
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("transfer: setting permissions on %s: %w", path, err)
	}

	return nil
}
