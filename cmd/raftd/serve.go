package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/raftcore/pkg/config"
	"github.com/cuemby/raftcore/pkg/fsm"
	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/node"
	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/security"
	"github.com/cuemby/raftcore/pkg/storage"
	"github.com/cuemby/raftcore/pkg/transport"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a raftd consensus node",
	Long: `Start a raftd node that either bootstraps a brand new single-server
cluster ("bootstrap: true" in the --config file) or starts already knowing its peers from the
config file, ready to be added to an existing cluster with
"raftd add-voter".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to the node's YAML config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.WithNodeID(cfg.NodeID)
	logger.Info().Str("bind", cfg.BindAddr).Msg("starting raftd node")

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	fsmStore := fsm.New()

	tr, apiTLS, err := buildTransport(cfg, store)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	if err := tr.Listen(cfg.BindAddr); err != nil {
		return err
	}

	consensus, err := restoreOrBootstrap(cfg, store)
	if err != nil {
		return fmt.Errorf("restore consensus state: %w", err)
	}

	n := node.New(cfg, store, tr, fsmStore, consensus)

	apiServer := node.NewAPIServer(n, apiTLS)
	if err := apiServer.Listen(cfg.APIAddr); err != nil {
		return err
	}
	defer apiServer.Close()

	metrics.SetVersion(Version)
	metrics.SetRaftStatus(func() metrics.RaftHealth {
		s := n.Status()
		return metrics.RaftHealth{
			Role:        s.Role,
			Term:        uint64(s.Term),
			LeaderID:    s.LeaderID,
			CommitIndex: uint64(s.CommitIndex),
			AppliedLag:  uint64(s.CommitIndex - s.LastApplied),
			Terminal:    s.Terminal,
		}
	})
	metrics.RegisterProbe("storage", func() error {
		_, _, err := store.LoadTermAndVote()
		return err
	})
	metrics.RegisterProbe("transport", func() error {
		if tr.Addr() == nil {
			return fmt.Errorf("peer endpoint not listening")
		}
		return nil
	})

	go serveMetrics(cfg.MetricsAddr)
	collector := metrics.NewCollector(n)
	collector.Start(10 * time.Second)
	defer collector.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	logger.Info().Str("api", cfg.APIAddr).Str("metrics", cfg.MetricsAddr).Msg("raftd node ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()
	<-done
	return n.Close()
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DataDir == ":memory:" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewBoltStore(cfg.DataDir)
}

// restoreOrBootstrap reconstructs a Consensus from whatever is
// durably stored. On a brand new node nothing has been saved yet, so
// every load below comes back empty/zero and this produces the same
// state raft.New would; a real restart additionally carries forward
// the persisted term, vote, and log.
func restoreOrBootstrap(cfg *config.Config, store storage.Store) (*raft.Consensus, error) {
	initial := node.JoinConfiguration(cfg)
	if cfg.Bootstrap {
		initial = node.Bootstrap(cfg)
	}

	term, votedFor, err := store.LoadTermAndVote()
	if err != nil {
		return nil, err
	}

	l := raft.NewLog()
	if meta, ok, err := store.LoadSnapshotMeta(); err == nil && ok {
		l.SetSnapshot(meta.LastIndex, meta.LastTerm)
		initial = meta.Configuration
	}
	entries, err := store.GetEntries(l.LastIndex()+1, ^raft.Index(0))
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		l.Append(entries...)
	}

	c := raft.Restore(node.RaftConfig(cfg), term, votedFor, l, initial)
	return c, nil
}

// buildTransport issues this node's mTLS certificate from the cluster
// CA (persisted in store, created on first boot) and returns a
// transport.Transport plus the tls.Config the client-facing API
// server reuses, so one CA-issued identity covers both of a node's
// gRPC surfaces. With InsecureDisableMTLS it returns a plaintext
// transport instead.
func buildTransport(cfg *config.Config, store storage.Store) (*transport.Transport, *tls.Config, error) {
	if cfg.InsecureDisableMTLS {
		return transport.New(cfg.NodeID), nil, nil
	}

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.ClusterID)); err != nil {
		return nil, nil, err
	}
	ca := security.NewCertAuthority(store)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return nil, nil, fmt.Errorf("initialize cluster CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return nil, nil, fmt.Errorf("save cluster CA: %w", err)
		}
	}

	host, _, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		host = cfg.BindAddr
	}
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = append(ips, ip)
	}
	cert, err := nodeIdentity(cfg, ca, host, ips)
	if err != nil {
		return nil, nil, err
	}

	rootDER := ca.GetRootCACert()
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parse root CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(rootCert)

	tr := transport.New(cfg.NodeID, transport.WithMTLS(cert, pool))
	apiTLS := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
	return tr, apiTLS, nil
}

// nodeIdentity reuses the mTLS identity stored under the node's data
// directory when it still matches this boot's CA and config, and
// issues (and persists) a fresh one otherwise, so a restart keeps its
// certificate serial instead of minting a new one every boot. This
// node always starts as a voter (Bootstrap and JoinConfiguration both
// seed self with RoleVoter), so that's the role its identity carries.
func nodeIdentity(cfg *config.Config, ca *security.CertAuthority, host string, ips []net.IP) (*tls.Certificate, error) {
	dir := security.TLSDir(cfg.DataDir)
	rootDER := ca.GetRootCACert()
	if cert, storedRoot, err := security.LoadNodeIdentity(dir); err == nil &&
		!security.NeedsReissue(cert, storedRoot, rootDER, cfg.NodeID, raft.RoleVoter) {
		log.WithNodeID(cfg.NodeID).Debug().Msg("reusing stored node identity")
		return cert, nil
	}
	cert, err := ca.IssueNodeCertificate(cfg.NodeID, raft.RoleVoter, []string{host, "localhost"}, ips)
	if err != nil {
		return nil, fmt.Errorf("issue node certificate: %w", err)
	}
	if err := security.SaveNodeIdentity(dir, cert, rootDER); err != nil {
		return nil, fmt.Errorf("persist node identity: %w", err)
	}
	return cert, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	log.WithComponent("metrics").Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil && !strings.Contains(err.Error(), "closed") {
		log.WithComponent("metrics").Error().Err(err).Msg("metrics server stopped")
	}
}
