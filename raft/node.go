package raft

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// ErrNotLeader is returned when a write is proposed on a follower
var ErrNotLeader = errors.New("not the leader")

// applyTimeout bounds how long a proposal may wait for commit
const applyTimeout = 5 * time.Second

// Node represents a fleet server in the Raft cluster
type Node struct {
	raft      *raft.Raft
	fsm       *FSM
	transport raft.Transport
	stores    []*raftboltdb.BoltStore
	logger    hclog.Logger
}

// Config represents the configuration for a Raft node
type Config struct {
	NodeID    string
	RaftAddr  string
	RaftDir   string
	Bootstrap bool
	Peers     []string

	// InMemory keeps log, stable store, snapshots and transport in memory.
	// Used by tests and throwaway single-node fleets.
	InMemory bool
}

// NewNode creates a new Raft node
func NewNode(config *Config, logger hclog.Logger) (*Node, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	// Create the FSM
	fsm := NewFSM(logger)

	// Create Raft configuration
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(config.NodeID)
	raftConfig.SnapshotInterval = 20 * time.Second
	raftConfig.SnapshotThreshold = 1024
	raftConfig.Logger = logger.Named("raft")

	n := &Node{fsm: fsm, logger: logger.Named("node")}

	var (
		logStore      raft.LogStore
		stableStore   raft.StableStore
		snapshotStore raft.SnapshotStore
		localAddr     raft.ServerAddress
	)

	if config.InMemory {
		store := raft.NewInmemStore()
		logStore, stableStore = store, store
		snapshotStore = raft.NewInmemSnapshotStore()
		addr, transport := raft.NewInmemTransport(raft.ServerAddress(config.RaftAddr))
		n.transport = transport
		localAddr = addr

		// Fast elections for a single in-process node
		raftConfig.HeartbeatTimeout = 50 * time.Millisecond
		raftConfig.ElectionTimeout = 50 * time.Millisecond
		raftConfig.LeaderLeaseTimeout = 50 * time.Millisecond
		raftConfig.CommitTimeout = 5 * time.Millisecond
	} else {
		// Create the BoltDB store for logs
		boltLog, err := raftboltdb.NewBoltStore(filepath.Join(config.RaftDir, "raft-log.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to create BoltDB log store: %w", err)
		}

		// Create the stable store for data
		boltStable, err := raftboltdb.NewBoltStore(filepath.Join(config.RaftDir, "raft-stable.db"))
		if err != nil {
			boltLog.Close()
			return nil, fmt.Errorf("failed to create BoltDB stable store: %w", err)
		}
		n.stores = []*raftboltdb.BoltStore{boltLog, boltStable}
		logStore, stableStore = boltLog, boltStable

		// Create the snapshot store
		snapshotStore, err = raft.NewFileSnapshotStoreWithLogger(config.RaftDir, 3, logger.Named("snapshot"))
		if err != nil {
			n.closeStores()
			return nil, fmt.Errorf("failed to create snapshot store: %w", err)
		}

		// Setup TCP transport
		addr, err := net.ResolveTCPAddr("tcp", config.RaftAddr)
		if err != nil {
			n.closeStores()
			return nil, fmt.Errorf("failed to resolve TCP address: %w", err)
		}
		transport, err := raft.NewTCPTransportWithLogger(config.RaftAddr, addr, 3, 10*time.Second, logger.Named("transport"))
		if err != nil {
			n.closeStores()
			return nil, fmt.Errorf("failed to create TCP transport: %w", err)
		}
		n.transport = transport
		localAddr = transport.LocalAddr()
	}

	// Create the Raft instance
	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, n.transport)
	if err != nil {
		n.closeStores()
		return nil, fmt.Errorf("failed to create Raft instance: %w", err)
	}
	n.raft = r

	// Bootstrap if needed
	if config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(config.NodeID),
					Address: localAddr,
				},
			},
		}

		// Add other peers
		for _, peer := range config.Peers {
			if peer != config.RaftAddr {
				configuration.Servers = append(configuration.Servers, raft.Server{
					ID:      raft.ServerID(fmt.Sprintf("node-%s", peer)),
					Address: raft.ServerAddress(peer),
				})
			}
		}

		f := r.BootstrapCluster(configuration)
		if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	return n, nil
}

// Apply proposes a command and returns what the FSM produced for it
func (n *Node) Apply(cmd *models.Command) (interface{}, error) {
	if !n.Leader() {
		return nil, ErrNotLeader
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	data, err := cmd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	future := n.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, ErrNotLeader
		}
		return nil, fmt.Errorf("failed to apply command to Raft log: %w", err)
	}

	// Check for application error
	if appErr, ok := future.Response().(error); ok && appErr != nil {
		return nil, appErr
	}

	return future.Response(), nil
}

// SeedAdmin adds the default administrator to a fleet with no users.
// It reports whether the account was created; followers never seed.
func (n *Node) SeedAdmin() (bool, error) {
	if !n.Leader() || len(n.fsm.GetUsers()) > 0 {
		return false, nil
	}
	now := time.Now().UTC()
	if _, err := n.Apply(&models.Command{Type: models.AddUser, User: models.DefaultAdmin(now), Timestamp: now}); err != nil {
		return false, err
	}
	n.logger.Info("seeded default administrator", "id", models.DefaultAdminID)
	return true, nil
}

// GetFSM returns the FSM
func (n *Node) GetFSM() *FSM {
	return n.fsm
}

// Leader returns true if this node is the leader
func (n *Node) Leader() bool {
	return n.raft.State() == raft.Leader
}

// LeaderAddress returns the address of the current leader
func (n *Node) LeaderAddress() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// State returns the current state of the Raft node
func (n *Node) State() raft.RaftState {
	return n.raft.State()
}

// Stats returns the raft library's diagnostic counters
func (n *Node) Stats() map[string]string {
	return n.raft.Stats()
}

// WaitForLeader blocks until the cluster has elected a leader or the timeout expires
func (n *Node) WaitForLeader(timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("no leader elected within %s", timeout)
		case <-tick.C:
			if n.LeaderAddress() != "" {
				return nil
			}
		}
	}
}

// AddVoter adds a server to the cluster; only valid on the leader
func (n *Node) AddVoter(id, addr string) error {
	if !n.Leader() {
		return ErrNotLeader
	}
	return n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0).Error()
}

// RemoveServer removes a server from the cluster; only valid on the leader
func (n *Node) RemoveServer(id string) error {
	if !n.Leader() {
		return ErrNotLeader
	}
	return n.raft.RemoveServer(raft.ServerID(id), 0, 0).Error()
}

// Shutdown stops the Raft node
func (n *Node) Shutdown() error {
	var err error
	if n.raft != nil {
		err = n.raft.Shutdown().Error()
	}

	// Shutdown the transport
	if closer, ok := n.transport.(raft.WithClose); ok {
		closer.Close()
	}

	n.closeStores()
	return err
}

func (n *Node) closeStores() {
	for _, s := range n.stores {
		if err := s.Close(); err != nil {
			n.logger.Warn("failed to close bolt store", "error", err)
		}
	}
	n.stores = nil
}
