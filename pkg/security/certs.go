package security

import (
	"bytes"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/raftcore/pkg/raft"
)

// certReissueThreshold: a stored identity with less than this much
// validity left is reissued at boot rather than reused.
const certReissueThreshold = 30 * 24 * time.Hour

const (
	nodeCertFile = "node.crt"
	nodeKeyFile  = "node.key"
	rootCertFile = "ca.crt"
)

// TLSDir is where a node keeps its issued identity, next to the rest
// of its durable state rather than in a home-directory dotfile, so
// wiping a node's data directory wipes its identity with it.
func TLSDir(dataDir string) string {
	return filepath.Join(dataDir, "tls")
}

// SaveNodeIdentity persists a CA-issued node certificate, its private
// key, and the root it chains to, so the identity survives restarts
// instead of being reissued (with a new serial) on every boot.
func SaveNodeIdentity(dir string, cert *tls.Certificate, rootDER []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create tls directory: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
	if err := os.WriteFile(filepath.Join(dir, nodeCertFile), certPEM, 0600); err != nil {
		return fmt.Errorf("write node certificate: %w", err)
	}

	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("node private key is not RSA")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(dir, nodeKeyFile), keyPEM, 0600); err != nil {
		return fmt.Errorf("write node key: %w", err)
	}

	rootPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})
	if err := os.WriteFile(filepath.Join(dir, rootCertFile), rootPEM, 0600); err != nil {
		return fmt.Errorf("write root certificate: %w", err)
	}
	return nil
}

// LoadNodeIdentity reads back what SaveNodeIdentity wrote: the node
// certificate with Leaf populated, plus the DER of the root it was
// issued under.
func LoadNodeIdentity(dir string) (*tls.Certificate, []byte, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, nodeCertFile), filepath.Join(dir, nodeKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("load node identity: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, nil, fmt.Errorf("parse node certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	rootPEM, err := os.ReadFile(filepath.Join(dir, rootCertFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read stored root certificate: %w", err)
	}
	block, _ := pem.Decode(rootPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("stored root certificate is not a PEM certificate")
	}
	return &cert, block.Bytes, nil
}

// NeedsReissue reports whether a stored identity cannot be reused for
// this boot: it was issued under a different root (the cluster CA was
// recreated, or the data directory moved between clusters), it names a
// different node or cluster role than this boot's config, or its
// validity window is about to close.
func NeedsReissue(cert *tls.Certificate, storedRootDER, currentRootDER []byte, nodeID string, role raft.ServerRole) bool {
	if cert == nil || cert.Leaf == nil {
		return true
	}
	if !bytes.Equal(storedRootDER, currentRootDER) {
		return true
	}
	if cert.Leaf.Subject.CommonName != CertCommonName(nodeID, role) {
		return true
	}
	return time.Until(cert.Leaf.NotAfter) < certReissueThreshold
}

// RemoveNodeIdentity deletes a stored identity, forcing a reissue on
// the next boot.
func RemoveNodeIdentity(dir string) error {
	return os.RemoveAll(dir)
}
