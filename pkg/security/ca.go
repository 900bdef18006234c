package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/storage"
)

const caOrganization = "raftcore cluster"

// CertAuthority issues and verifies the mTLS identities a cluster runs
// on: one root per cluster, one leaf per member (voter, standby, or
// spare) and per CLI client. The root key never leaves this process
// unencrypted; SaveToStore seals it with the cluster-ID-derived key
// before handing it to the storage collaborator.
type CertAuthority struct {
	rootCert  *x509.Certificate
	rootKey   *rsa.PrivateKey
	store     storage.Store
	certCache map[string]*CachedCert
	// revoked maps a revoked certificate's serial number (decimal
	// string) to the time it was revoked; VerifyCertificate rejects
	// any serial in it.
	revoked map[string]time.Time
	mu      sync.RWMutex
}

// CachedCert is one issued leaf retained in memory, keyed by the node
// or client id it was issued to.
type CachedCert struct {
	Cert      *x509.Certificate
	Key       *rsa.PrivateKey
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CAData is the JSON shape SaveToStore persists: the root certificate,
// the root key encrypted at rest, and the revoked serial set.
type CAData struct {
	RootCertDER []byte
	RootKeyDER  []byte
	// RevokedSerials holds the decimal serial number of every
	// certificate passed through Revoke.
	RevokedSerials []string
}

const (
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// Voter/standby certificate validity: these are long-lived cluster
	// members, replicated to and counted for quorum (standby) or for
	// quorum and votes (voter).
	memberCertValidity = 90 * 24 * time.Hour
	// Spare certificate validity: a spare is neither replicated to for
	// quorum purposes nor counted for votes, and is the role most
	// often used for a server still being provisioned, so its
	// identity is trusted for a much shorter window.
	spareCertValidity = 24 * time.Hour
	// Client certificate validity, for the raftd CLI's operator
	// identity.
	clientCertValidity = 90 * 24 * time.Hour

	// The root signs for a decade; leaves turn over in days or months.
	rootKeySize = 4096
	leafKeySize = 2048
)

// certValidityFor maps a member's cluster role to how long its issued
// identity stays trusted. Only RoleSpare gets the short window: a
// voter or standby on a 24-hour certificate would sit permanently
// inside NeedsReissue's renewal threshold.
func certValidityFor(role raft.ServerRole) time.Duration {
	if role == raft.RoleSpare {
		return spareCertValidity
	}
	return memberCertValidity
}

// CertCommonName is the subject CN scheme member identities are
// issued under; NeedsReissue matches against it at boot.
func CertCommonName(nodeID string, role raft.ServerRole) string {
	return role.String() + "-" + nodeID
}

func newSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

// NewCertAuthority returns a CA backed by store. Call Initialize for a
// brand new cluster or LoadFromStore on restart before issuing.
func NewCertAuthority(store storage.Store) *CertAuthority {
	return &CertAuthority{
		store:     store,
		certCache: make(map[string]*CachedCert),
		revoked:   make(map[string]time.Time),
	}
}

// Initialize mints a fresh self-signed root for a brand new cluster.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	key, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("security: generate root key: %w", err)
	}
	serial, err := newSerial()
	if err != nil {
		return fmt.Errorf("security: root serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{caOrganization}, CommonName: "raftcore root CA"},
		NotBefore:             now,
		NotAfter:              now.Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("security: self-sign root: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("security: parse root: %w", err)
	}

	ca.rootCert, ca.rootKey = cert, key
	return nil
}

// LoadFromStore rehydrates a previously saved CA, decrypting the root
// key with the cluster encryption key set at boot.
func (ca *CertAuthority) LoadFromStore() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	blob, err := ca.store.GetCA()
	if err != nil {
		return fmt.Errorf("security: read CA blob: %w", err)
	}
	var data CAData
	if err := json.Unmarshal(blob, &data); err != nil {
		return fmt.Errorf("security: decode CA blob: %w", err)
	}

	keyDER, err := Decrypt(data.RootKeyDER)
	if err != nil {
		return fmt.Errorf("security: unseal root key: %w", err)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return fmt.Errorf("security: parse root key: %w", err)
	}
	cert, err := x509.ParseCertificate(data.RootCertDER)
	if err != nil {
		return fmt.Errorf("security: parse root: %w", err)
	}

	ca.rootCert, ca.rootKey = cert, key
	ca.loadRevoked(data)
	return nil
}

// loadRevoked rebuilds the revoked-serial set from a loaded CAData.
// The exact original revocation timestamp isn't persisted, only the
// serial; IsRevoked only ever checks membership, so the reconstructed
// time (load time) is immaterial.
func (ca *CertAuthority) loadRevoked(data CAData) {
	ca.revoked = make(map[string]time.Time, len(data.RevokedSerials))
	for _, serial := range data.RevokedSerials {
		ca.revoked[serial] = time.Now()
	}
}

// SaveToStore seals the root key and hands the CA's durable state to
// the storage collaborator.
func (ca *CertAuthority) SaveToStore() error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("security: CA not initialized")
	}

	sealed, err := Encrypt(x509.MarshalPKCS1PrivateKey(ca.rootKey))
	if err != nil {
		return fmt.Errorf("security: seal root key: %w", err)
	}
	data := CAData{
		RootCertDER:    ca.rootCert.Raw,
		RootKeyDER:     sealed,
		RevokedSerials: make([]string, 0, len(ca.revoked)),
	}
	for serial := range ca.revoked {
		data.RevokedSerials = append(data.RevokedSerials, serial)
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("security: encode CA blob: %w", err)
	}
	if err := ca.store.SaveCA(blob); err != nil {
		return fmt.Errorf("security: write CA blob: %w", err)
	}
	return nil
}

// Revoke marks the certificate cached under nodeID as revoked: the
// certificate's serial number is recorded, and any subsequent
// VerifyCertificate call against it fails even though the
// certificate's signature and validity window are otherwise intact.
// Nothing in this repository calls Revoke when a CHANGE removes a
// server, and the transport's TLS handshake verifies peers against the
// CA pool only, so a revoked identity is refused by VerifyCertificate
// but not by the transport.
func (ca *CertAuthority) Revoke(nodeID string) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	cached, ok := ca.certCache[nodeID]
	if !ok {
		return fmt.Errorf("security: no cached certificate for %q", nodeID)
	}
	ca.revoked[cached.Cert.SerialNumber.String()] = time.Now()
	delete(ca.certCache, nodeID)
	return nil
}

// IsRevoked reports whether serial has been revoked.
func (ca *CertAuthority) IsRevoked(serial *big.Int) bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	_, ok := ca.revoked[serial.String()]
	return ok
}

// issue signs one leaf below the root and caches it under cacheID.
func (ca *CertAuthority) issue(cacheID string, subject pkix.Name, validity time.Duration, extUsage []x509.ExtKeyUsage, dnsNames []string, ips []net.IP) (*tls.Certificate, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("security: CA not initialized")
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, fmt.Errorf("security: generate key for %q: %w", cacheID, err)
	}
	serial, err := newSerial()
	if err != nil {
		return nil, fmt.Errorf("security: serial for %q: %w", cacheID, err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject,
		NotBefore:    now,
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  extUsage,
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("security: sign certificate for %q: %w", cacheID, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("security: parse certificate for %q: %w", cacheID, err)
	}

	ca.certCache[cacheID] = &CachedCert{Cert: leaf, Key: key, IssuedAt: leaf.NotBefore, ExpiresAt: leaf.NotAfter}
	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// IssueNodeCertificate issues the identity a cluster member serves and
// dials peers with. The member's role sets both the validity window
// (certValidityFor) and the certificate's OU/CN, so an identity issued
// to a spare can't be replayed as a voter's after a role change
// without a reissue.
func (ca *CertAuthority) IssueNodeCertificate(nodeID string, role raft.ServerRole, dnsNames []string, ips []net.IP) (*tls.Certificate, error) {
	subject := pkix.Name{
		Organization:       []string{caOrganization},
		OrganizationalUnit: []string{role.String()},
		CommonName:         CertCommonName(nodeID, role),
	}
	usage := []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth}
	return ca.issue(nodeID, subject, certValidityFor(role), usage, dnsNames, ips)
}

// IssueClientCertificate issues a dial-only identity for the raftd CLI.
func (ca *CertAuthority) IssueClientCertificate(clientID string) (*tls.Certificate, error) {
	subject := pkix.Name{
		Organization: []string{caOrganization},
		CommonName:   "cli-" + clientID,
	}
	usage := []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	return ca.issue(clientID, subject, clientCertValidity, usage, nil, nil)
}

// VerifyCertificate checks that cert chains to this cluster's root and
// hasn't been revoked by a membership change.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("security: CA not initialized")
	}
	if _, ok := ca.revoked[cert.SerialNumber.String()]; ok {
		return fmt.Errorf("security: certificate %s revoked", cert.SerialNumber)
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("security: verify certificate: %w", err)
	}
	return nil
}

// GetRootCACert returns the root certificate in DER form, the trust
// anchor every peer and client pool is built from.
func (ca *CertAuthority) GetRootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized reports whether the CA holds a usable signing root.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

// GetCachedCert returns the last leaf issued under id, if any.
func (ca *CertAuthority) GetCachedCert(id string) (*CachedCert, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	cached, ok := ca.certCache[id]
	return cached, ok
}
