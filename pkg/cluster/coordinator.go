package cluster

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/ideengine/pkg/docstore"
	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config holds the parameters for constructing a Coordinator.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Coordinator gives the Document Store a durable, replicated command log
// so the engine can run as more than one process. A single-node
// Coordinator (bootstrapped with no peers) stays on the exact same Raft
// code path as a multi-node one; it is the default deployment mode.
type Coordinator struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *documentFSM
	tokens *TokenManager
	logger zerolog.Logger
}

// New constructs a Coordinator over store but does not yet join or
// bootstrap a Raft cluster; call Bootstrap or Join next.
func New(cfg Config, store *docstore.Store) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cluster data dir: %w", err)
	}

	return &Coordinator{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      newDocumentFSM(store),
		tokens:   NewTokenManager(),
		logger:   log.WithComponent("cluster"),
	}, nil
}

func (c *Coordinator) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(c.nodeID)

	// Tuned for LAN/same-datacenter deployment, not the hashicorp/raft
	// WAN-oriented defaults: faster failure detection buys a sub-3s
	// failover at the cost of more chatter between peers.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (c *Coordinator) newRaft(dataDir string) (*raft.Raft, raft.Transport, error) {
	addr, err := net.ResolveTCPAddr("tcp", c.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve cluster bind addr: %w", err)
	}

	transport, err := raft.NewTCPTransport(c.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(c.raftConfig(), c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft node: %w", err)
	}
	return r, transport, nil
}

// Bootstrap initializes a brand new single-node Raft cluster rooted at this
// Coordinator. Additional nodes reach HA by calling Join against it.
func (c *Coordinator) Bootstrap() error {
	r, transport, err := c.newRaft(c.dataDir)
	if err != nil {
		return err
	}
	c.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(c.nodeID), Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	c.logger.Info().Str("node_id", c.nodeID).Msg("bootstrapped single-node cluster")
	return nil
}

// Join starts this Coordinator's Raft node without bootstrapping a cluster.
// It does not contact leaderAddr or present token anywhere: the node joins
// only when the leader adds it with AddVoter, and Join always returns an
// error saying so.
func (c *Coordinator) Join(leaderAddr, token string) error {
	r, _, err := c.newRaft(c.dataDir)
	if err != nil {
		return err
	}
	c.raft = r

	c.logger.Info().Str("leader_addr", leaderAddr).Msg("joining cluster")
	// No RPC to the leader exists here; the error names the out-of-band
	// AddVoter call the leader has to make.
	return fmt.Errorf("join requires an out-of-band AddVoter call from the leader at %s with token %s", leaderAddr, token)
}

// Propose serializes cmd through Raft and returns once it is committed to
// this node's FSM. Non-leader nodes reject immediately with the current
// leader's address so the caller can retry there.
func (c *Coordinator) Propose(cmd Command) (uint64, error) {
	if c.raft == nil {
		return 0, fmt.Errorf("cluster coordinator not started")
	}
	if !c.IsLeader() {
		return 0, fmt.Errorf("not the leader, current leader: %s", c.LeaderAddr())
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	data, err := json.Marshal(cmd)
	if err != nil {
		return 0, fmt.Errorf("marshal command: %w", err)
	}

	future := c.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return 0, fmt.Errorf("apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return 0, err
		}
	}
	return future.Index(), nil
}

// ProposeUpdate replicates a CRDT update for (bucketID, path) through
// Raft before it lands in the Document Store. Satisfies
// session.ClusterProposer.
func (c *Coordinator) ProposeUpdate(bucketID, path string, update []byte, origin string) error {
	_, err := c.Propose(Command{Op: OpApplyUpdate, BucketID: bucketID, Path: path, Update: update, Origin: origin})
	return err
}

// ProposeDelete replicates a document deletion through Raft. Satisfies
// session.ClusterProposer.
func (c *Coordinator) ProposeDelete(bucketID, path string) error {
	_, err := c.Propose(Command{Op: OpDeleteDocument, BucketID: bucketID, Path: path})
	return err
}

// ProposeCreate replicates a document creation through Raft. Satisfies
// session.ClusterProposer.
func (c *Coordinator) ProposeCreate(bucketID, path string) error {
	_, err := c.Propose(Command{Op: OpCreateDocument, BucketID: bucketID, Path: path})
	return err
}

// IsLeader reports whether this node currently holds Raft leadership.
// Satisfies session.LeaderChecker.
func (c *Coordinator) IsLeader() bool {
	if c.raft == nil {
		return false
	}
	return c.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader, or "" if
// unknown. Satisfies session.LeaderChecker.
func (c *Coordinator) LeaderAddr() string {
	if c.raft == nil {
		return ""
	}
	return string(c.raft.Leader())
}

// AddVoter adds nodeID at address as a Raft voter. Only the leader may call
// this; followers return an error naming the current leader.
func (c *Coordinator) AddVoter(nodeID, address string) error {
	if !c.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", c.LeaderAddr())
	}
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes nodeID from the Raft configuration.
func (c *Coordinator) RemoveServer(nodeID string) error {
	if !c.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", c.LeaderAddr())
	}
	future := c.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// QuorumAppliedIndex returns the highest Raft log index this node has
// applied to its FSM. hashicorp/raft only ever calls FSM.Apply for
// entries already committed to a quorum, so this index is also the
// highest index known quorum-durable — the Document Store's periodic
// snapshot worker uses it to decide when a document's update log is
// safe to compact. Satisfies docstore.DurabilityChecker.
func (c *Coordinator) QuorumAppliedIndex() uint64 {
	if c.raft == nil {
		return 0
	}
	return c.raft.AppliedIndex()
}

// Stats returns a snapshot of Raft state for the health/metrics surface.
func (c *Coordinator) Stats() map[string]string {
	if c.raft == nil {
		return map[string]string{"state": "stopped"}
	}
	stats := c.raft.Stats()
	metrics.RaftLogIndex.Set(float64(c.raft.LastIndex()))
	metrics.RaftAppliedIndex.Set(float64(c.raft.AppliedIndex()))
	if c.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	return stats
}

// GenerateJoinToken mints a join token valid for duration; only the leader
// should hand these out.
func (c *Coordinator) GenerateJoinToken(duration time.Duration) (*JoinToken, error) {
	return c.tokens.Generate(duration)
}

// ValidateJoinToken checks token against the Coordinator's token registry.
func (c *Coordinator) ValidateJoinToken(token string) error {
	return c.tokens.Validate(token)
}

// Shutdown gracefully stops the Raft node.
func (c *Coordinator) Shutdown() error {
	if c.raft == nil {
		return nil
	}
	return c.raft.Shutdown().Error()
}
