package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ideengine/pkg/auth"
	"github.com/cuemby/ideengine/pkg/cluster"
	"github.com/cuemby/ideengine/pkg/docstore"
	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/room"
	"github.com/cuemby/ideengine/pkg/session"
	"github.com/cuemby/ideengine/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Session Endpoint process",
	Long: `Start the Session Endpoint: the websocket listener that serves
browser, container-agent, and service connections over the Document Store
and Room Router, plus the /healthz, /readyz, /metrics, and
/buckets/{bucketID}/files HTTP surface.

By default this runs as a single-node Cluster Coordinator (Raft
bootstrapped with no peers) — the same code path a multi-node deployment
uses, just with a quorum of one.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", ":8443", "Address the websocket + HTTP surface listens on (or set IDEENGINE_LISTEN_ADDR)")
	serveCmd.Flags().String("snapshot-root", "./data/snapshots", "Root directory for the filesystem Snapshot Adapter (or set IDEENGINE_SNAPSHOT_ROOT)")
	serveCmd.Flags().String("cache-dir", "", "If set, wrap the Snapshot Adapter in a local BoltDB write-through cache rooted here (or set IDEENGINE_CACHE_DIR)")
	serveCmd.Flags().String("data-dir", "./data/cluster", "Data directory for this node's Raft log, stable store, and snapshots (or set IDEENGINE_DATA_DIR)")
	serveCmd.Flags().String("node-id", "node-1", "This node's Raft server ID (or set IDEENGINE_NODE_ID)")
	serveCmd.Flags().String("raft-bind-addr", "127.0.0.1:9000", "Address this node's Raft transport binds to (or set IDEENGINE_RAFT_BIND_ADDR)")
	serveCmd.Flags().String("cluster-join-addr", "", "Raft address of an existing leader to join, instead of bootstrapping a new cluster (or set IDEENGINE_CLUSTER_JOIN_ADDR)")
	serveCmd.Flags().String("cluster-join-token", "", "Join token presented to --cluster-join-addr (or set IDEENGINE_CLUSTER_JOIN_TOKEN)")
}

// serve's flag/env/file precedence is resolved against rootCmd's
// loadedFileConfig (populated once in initLogging, before any command's
// RunE runs) rather than re-reading the file here.
func runServe(cmd *cobra.Command, args []string) error {
	listenAddr := resolveString(cmd, "listen-addr", "IDEENGINE_LISTEN_ADDR", loadedFileConfig.ListenAddr, ":8443")
	snapshotRoot := resolveString(cmd, "snapshot-root", "IDEENGINE_SNAPSHOT_ROOT", loadedFileConfig.SnapshotRoot, "./data/snapshots")
	cacheDir := resolveString(cmd, "cache-dir", "IDEENGINE_CACHE_DIR", loadedFileConfig.CacheDir, "")
	dataDir := resolveString(cmd, "data-dir", "IDEENGINE_DATA_DIR", loadedFileConfig.DataDir, "./data/cluster")
	nodeID := resolveString(cmd, "node-id", "IDEENGINE_NODE_ID", loadedFileConfig.NodeID, "node-1")
	raftBindAddr := resolveString(cmd, "raft-bind-addr", "IDEENGINE_RAFT_BIND_ADDR", loadedFileConfig.RaftBindAddr, "127.0.0.1:9000")
	clusterJoinAddr := resolveString(cmd, "cluster-join-addr", "IDEENGINE_CLUSTER_JOIN_ADDR", loadedFileConfig.ClusterJoinAddr, "")
	clusterJoinToken := resolveString(cmd, "cluster-join-token", "IDEENGINE_CLUSTER_JOIN_TOKEN", loadedFileConfig.ClusterJoinToken, "")

	logger := log.WithComponent("engine")

	adapter, err := storage.NewFilesystemAdapter(snapshotRoot)
	if err != nil {
		return fmt.Errorf("create snapshot adapter: %w", err)
	}
	defer adapter.Close()

	var snapshotAdapter storage.SnapshotAdapter = adapter
	if cacheDir != "" {
		cached, err := storage.NewCachingAdapter(adapter, cacheDir)
		if err != nil {
			return fmt.Errorf("create caching adapter: %w", err)
		}
		snapshotAdapter = cached
	}

	store := docstore.New(snapshotAdapter, docstore.DefaultOptions())
	store.Start()
	defer store.Stop()

	coordinator, err := cluster.New(cluster.Config{
		NodeID:   nodeID,
		BindAddr: raftBindAddr,
		DataDir:  dataDir,
	}, store)
	if err != nil {
		return fmt.Errorf("create cluster coordinator: %w", err)
	}
	store.SetDurabilityChecker(coordinator)

	if clusterJoinAddr != "" {
		if err := coordinator.Join(clusterJoinAddr, clusterJoinToken); err != nil {
			return fmt.Errorf("join cluster at %s: %w", clusterJoinAddr, err)
		}
	} else {
		if err := coordinator.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	}
	defer coordinator.Shutdown()

	router := room.New(room.Options{})
	defer router.Stop()

	tokens := auth.NewTokenManager()

	endpoint := session.New(store, router, tokens, session.DefaultOptions())
	endpoint.SetProposer(coordinator)

	health := session.NewHealthServer(coordinator, snapshotAdapter)

	mux := http.NewServeMux()
	mux.Handle("/ws", endpoint)
	mux.Handle("/", health.GetHandler())

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("listen_addr", listenAddr).Str("node_id", nodeID).Msg("serving")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
		}
		result := store.FlushAll(shutdownCtx)
		logger.Info().Int("flushed", result.Flushed).Int("failed", len(result.Failed)).Msg("final flush complete")
	}

	return nil
}
