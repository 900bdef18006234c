/*
Package security provides cryptographic services for a raftcore cluster.

This package implements a Certificate Authority (CA) for mutual TLS (mTLS)
between cluster peers and clients, certificate lifecycle management, and
symmetric encryption of the CA's own private key at rest. Together these
secure the gRPC transport every peer and client connection runs over.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬──────────────────────────────────┬─────────────────────┘
	      │                                  │
	      ▼                                  ▼
	┌────────────────┐               ┌──────────────┐
	│       CA        │               │ Certificate  │
	│  (Root + Leaf)  │               │  Management  │
	└────────┬────────┘               └──────┬───────┘
	         │                                │
	         ▼                                ▼
	  RSA 4096-bit root               90-day validity (spares: 24h)
	  10-year validity                Automatic rotation check

## Cluster Encryption Key

The CA's root private key is encrypted at rest using a 32-byte key derived
from the cluster ID at bootstrap:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256-GCM

The key lives only in memory and must be supplied again when a node restarts
or a new node joins the cluster.

# Certificate Authority

NewCertAuthority wraps a storage.Store for persisting the root certificate
and its encrypted key. Initialize creates a fresh self-signed root; every
peer and client certificate this CA issues chains back to it.

	ca := security.NewCertAuthority(store)
	if err := ca.Initialize(); err != nil { ... }
	if err := ca.SaveToStore(); err != nil { ... }

	cert, err := ca.IssueNodeCertificate(nodeID, raft.RoleVoter, []string{"node-1"}, nil)

# Node Identity

A node's issued certificate, key, and issuing root are persisted under
<dataDir>/tls/ (node.crt, node.key, ca.crt) by SaveNodeIdentity, so a
restart reuses the same identity instead of minting a new serial every
boot. NeedsReissue decides at startup whether the stored identity is
still usable: same issuing root, same node id and role, and more than
30 days of validity left.

# See Also

  - gRPC transport credentials: https://pkg.go.dev/google.golang.org/grpc/credentials
  - crypto/x509: https://pkg.go.dev/crypto/x509
*/
package security
