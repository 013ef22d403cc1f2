// genkey generates an Ed25519 key pair for NeuroGenX JWT signing.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey -dir data
//
// Writes <dir>/jwt_private.pem and <dir>/jwt_public.pem, both mode 0600.
// Point NGX_JWT_PRIVATE_KEY and NGX_JWT_PUBLIC_KEY at them. Without them
// the server generates an ephemeral pair on every start, which voids all
// issued tokens on restart.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func main() {
	dir := flag.String("dir", "data", "Directory to write the key files to")
	flag.Parse()

	privPath, pubPath, err := writeKeyPair(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
	fmt.Printf("export NGX_JWT_PRIVATE_KEY=%s NGX_JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
}

// writeKeyPair refuses to overwrite existing keys so live tokens are never
// invalidated by accident.
func writeKeyPair(dir string) (privPath, pubPath string, err error) {
	privPath = filepath.Join(dir, "jwt_private.pem")
	pubPath = filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("create %s: %w", dir, err)
	}
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return "", "", fmt.Errorf("%s already exists, delete it first to rotate keys", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", "", err
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return "", "", err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
