package utils

import (
	"os"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

// ReadHostKey loads and parses the SSH host key at the given path.
func ReadHostKey(path string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, trace.BadParameter("failed to parse host key %v: %v", path, err)
	}
	return signer, nil
}
