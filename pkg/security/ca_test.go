package security

import (
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/storage"
)

func TestInitializeProducesSigningRoot(t *testing.T) {
	ca := newTestCA(t)

	require.True(t, ca.IsInitialized())
	require.NotNil(t, ca.rootCert)
	require.NotNil(t, ca.rootKey)
	assert.True(t, ca.rootCert.IsCA)
	// 10-year root, give or take the test's own runtime.
	assert.WithinDuration(t, time.Now().Add(rootCAValidity), ca.rootCert.NotAfter, time.Hour)
}

func TestSaveToStoreRoundTripsThroughEncryption(t *testing.T) {
	require.NoError(t, SetClusterEncryptionKey(DeriveKeyFromClusterID("test-cluster")))
	store := storage.NewMemoryStore()

	ca1 := NewCertAuthority(store)
	require.NoError(t, ca1.Initialize())
	require.NoError(t, ca1.SaveToStore())

	// The persisted blob is what a restarted node rehydrates from.
	ca2 := NewCertAuthority(store)
	require.NoError(t, ca2.LoadFromStore())
	require.True(t, ca2.IsInitialized())
	assert.True(t, ca1.rootCert.Equal(ca2.rootCert))
	assert.Zero(t, ca1.rootKey.N.Cmp(ca2.rootKey.N))
}

func TestIssueNodeCertificatePerRole(t *testing.T) {
	ca := newTestCA(t)

	tests := []struct {
		role     raft.ServerRole
		validity time.Duration
	}{
		{raft.RoleVoter, memberCertValidity},
		{raft.RoleStandby, memberCertValidity},
		{raft.RoleSpare, spareCertValidity},
	}
	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			cert, err := ca.IssueNodeCertificate("node-1", tt.role, []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
			require.NoError(t, err)
			require.NotNil(t, cert.Leaf)

			assert.Equal(t, CertCommonName("node-1", tt.role), cert.Leaf.Subject.CommonName)
			assert.Equal(t, []string{tt.role.String()}, cert.Leaf.Subject.OrganizationalUnit)
			assert.WithinDuration(t, time.Now().Add(tt.validity), cert.Leaf.NotAfter, time.Hour)

			// Peer certificates both dial and serve, so they need
			// client and server auth usages.
			assert.NotZero(t, cert.Leaf.KeyUsage&x509.KeyUsageDigitalSignature)
			assert.Contains(t, cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
			assert.Contains(t, cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
		})
	}
}

func TestIssueClientCertificateIsClientOnly(t *testing.T) {
	ca := newTestCA(t)

	cert, err := ca.IssueClientCertificate("operator@laptop")
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	assert.Equal(t, "cli-operator@laptop", cert.Leaf.Subject.CommonName)
	assert.Contains(t, cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
	assert.NotContains(t, cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
}

func TestVerifyCertificateAcceptsOwnIssue(t *testing.T) {
	ca := newTestCA(t)

	cert, err := ca.IssueNodeCertificate("node-2", raft.RoleVoter, []string{"localhost"}, nil)
	require.NoError(t, err)
	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))
}

func TestRevokeRejectsRemovedServer(t *testing.T) {
	ca := newTestCA(t)

	cert, err := ca.IssueNodeCertificate("node-3", raft.RoleVoter, []string{"localhost"}, nil)
	require.NoError(t, err)
	require.NoError(t, ca.VerifyCertificate(cert.Leaf))

	// The server leaves the cluster configuration; its still-valid
	// certificate must stop verifying.
	require.NoError(t, ca.Revoke("node-3"))
	assert.True(t, ca.IsRevoked(cert.Leaf.SerialNumber))
	assert.Error(t, ca.VerifyCertificate(cert.Leaf))
	_, cached := ca.GetCachedCert("node-3")
	assert.False(t, cached)
}

func TestRevocationSurvivesSaveLoad(t *testing.T) {
	require.NoError(t, SetClusterEncryptionKey(DeriveKeyFromClusterID("test-cluster")))
	store := storage.NewMemoryStore()

	ca1 := NewCertAuthority(store)
	require.NoError(t, ca1.Initialize())
	cert, err := ca1.IssueNodeCertificate("node-4", raft.RoleStandby, []string{"localhost"}, nil)
	require.NoError(t, err)
	require.NoError(t, ca1.Revoke("node-4"))
	require.NoError(t, ca1.SaveToStore())

	ca2 := NewCertAuthority(store)
	require.NoError(t, ca2.LoadFromStore())
	assert.True(t, ca2.IsRevoked(cert.Leaf.SerialNumber))
	assert.Error(t, ca2.VerifyCertificate(cert.Leaf))
}

func TestGetRootCACertMatchesInternalRoot(t *testing.T) {
	ca := newTestCA(t)

	der := ca.GetRootCACert()
	require.NotNil(t, der)
	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ca.rootCert))
}

func TestIssuedCertificateIsCached(t *testing.T) {
	ca := newTestCA(t)

	_, err := ca.IssueNodeCertificate("node-5", raft.RoleVoter, nil, nil)
	require.NoError(t, err)

	cached, ok := ca.GetCachedCert("node-5")
	require.True(t, ok)
	require.NotNil(t, cached)
	assert.Equal(t, "voter-node-5", cached.Cert.Subject.CommonName)
}
