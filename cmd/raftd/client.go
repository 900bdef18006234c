package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cuemby/raftcore/pkg/fsm"
	"github.com/cuemby/raftcore/pkg/node"
	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/spf13/cobra"
)

func encodeSet(key, value string) ([]byte, error) {
	return fsm.Encode(fsm.Command{Op: fsm.OpSet, Key: key, Value: []byte(value)})
}

const clientTimeout = 5 * time.Second

func addrFlag(cmd *cobra.Command) {
	cmd.Flags().String("addr", "127.0.0.1:9091", "Address of a node's client API")
	cmd.Flags().Bool("insecure", false, "Dial without mTLS (must match the node's insecureDisableMTLS)")
}

func dial(cmd *cobra.Command) (*node.APIClient, func(), error) {
	addr, _ := cmd.Flags().GetString("addr")
	insecure, _ := cmd.Flags().GetBool("insecure")

	var tlsConfig *tls.Config
	if !insecure {
		// A production client would authenticate with a certificate
		// issued by the cluster CA; until a "raftd enroll" flow exists
		// this falls back to an unauthenticated TLS transport for
		// local use.
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c, err := node.DialAPIClient(addr, tlsConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return c, func() { _ = c.Close() }, nil
}

var proposeCmd = &cobra.Command{
	Use:   "propose <key> <value>",
	Short: "Propose a key/value SET command to the cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		payload, err := encodeSet(args[0], args[1])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		reply, err := c.Propose(ctx, payload)
		if err != nil {
			return err
		}
		if reply.Error != "" {
			return fmt.Errorf("%s", reply.Error)
		}
		fmt.Printf("committed at index %d\n", reply.CommitIndex)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a key from the local state machine of the dialed node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		reply, err := c.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !reply.Found {
			return fmt.Errorf("key %q not found", args[0])
		}
		fmt.Println(string(reply.Value))
		return nil
	},
}

var barrierCmd = &cobra.Command{
	Use:   "barrier",
	Short: "Block until every command submitted before this one has been applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		reply, err := c.Barrier(ctx)
		if err != nil {
			return err
		}
		if reply.Error != "" {
			return fmt.Errorf("%s", reply.Error)
		}
		fmt.Printf("caught up to index %d\n", reply.CommitIndex)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the dialed node's role, term, and log position",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		reply, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("id:           %s\n", reply.ID)
		fmt.Printf("role:         %s\n", reply.Role)
		fmt.Printf("term:         %d\n", reply.Term)
		fmt.Printf("leader:       %s\n", reply.LeaderID)
		fmt.Printf("commitIndex:  %d\n", reply.CommitIndex)
		fmt.Printf("lastApplied:  %d\n", reply.LastApplied)
		fmt.Printf("voters:       %v\n", reply.Voters)
		return nil
	},
}

var addVoterCmd = &cobra.Command{
	Use:   "add-voter <id> <address>",
	Short: "Add (or promote) a server to voting membership via joint consensus",
	Args:  cobra.ExactArgs(2),
	RunE:  changeRunE(raft.RoleVoter),
}

var addStandbyCmd = &cobra.Command{
	Use:   "add-standby <id> <address>",
	Short: "Add a non-voting replication target",
	Args:  cobra.ExactArgs(2),
	RunE:  changeRunE(raft.RoleStandby),
}

var removeServerCmd = &cobra.Command{
	Use:   "remove-server <id>",
	Short: "Remove a server from the cluster configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		servers := removeServer(status.Servers, args[0])

		reply, err := c.Change(ctx, servers)
		if err != nil {
			return err
		}
		if reply.Error != "" {
			return fmt.Errorf("%s", reply.Error)
		}
		fmt.Printf("configuration change committed at index %d\n", reply.CommitIndex)
		return nil
	},
}

var transferLeadershipCmd = &cobra.Command{
	Use:   "transfer-leadership <target-id>",
	Short: "Ask the current leader to hand off leadership to target-id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		reply, err := c.Transfer(ctx, args[0])
		if err != nil {
			return err
		}
		if reply.Error != "" {
			return fmt.Errorf("%s", reply.Error)
		}
		fmt.Printf("leadership transfer started: TimeoutNow sent to %s\n", args[0])
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{
		proposeCmd, getCmd, barrierCmd, statusCmd,
		addVoterCmd, addStandbyCmd, removeServerCmd, transferLeadershipCmd,
	} {
		addrFlag(cmd)
	}
}

// changeRunE builds the RunE for commands that add a server under a
// given role: fetch the current server list from Status, splice the
// new server in, and submit it as a CHANGE request.
func changeRunE(role raft.ServerRole) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, closeFn, err := dial(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}

		servers := make([]raft.Server, 0, len(status.Servers)+1)
		for _, s := range status.Servers {
			if s.ID == args[0] {
				continue
			}
			servers = append(servers, s)
		}
		servers = append(servers, raft.Server{ID: args[0], Address: args[1], Role: role})

		reply, err := c.Change(ctx, servers)
		if err != nil {
			return err
		}
		if reply.Error != "" {
			return fmt.Errorf("%s", reply.Error)
		}
		fmt.Printf("configuration change committed at index %d\n", reply.CommitIndex)
		return nil
	}
}

func removeServer(servers []raft.Server, id string) []raft.Server {
	out := make([]raft.Server, 0, len(servers))
	for _, s := range servers {
		if s.ID == id {
			continue
		}
		out = append(out, s)
	}
	return out
}
