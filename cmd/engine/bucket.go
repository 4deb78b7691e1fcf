package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/ideengine/pkg/storage"
	"github.com/cuemby/ideengine/pkg/types"
)

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Operate on buckets directly against the Snapshot Adapter",
	Long: `Administrative bucket operations. These talk to the object store
through the Snapshot Adapter directly — they never go through a running
engine process's Document Store, Room Router, or Cluster Coordinator, so
they are safe to run even while an engine is serving traffic on an
unrelated bucket.`,
}

func init() {
	bucketCmd.PersistentFlags().String("snapshot-root", "./data/snapshots", "Root directory for the filesystem Snapshot Adapter")

	bucketCmd.AddCommand(bucketTombstoneCmd)
	bucketCmd.AddCommand(bucketCloneCmd)
	bucketCmd.AddCommand(bucketInspectCmd)
}

func openBucketAdapter(cmd *cobra.Command) (storage.SnapshotAdapter, error) {
	root, _ := cmd.Flags().GetString("snapshot-root")
	adapter, err := storage.NewFilesystemAdapter(root)
	if err != nil {
		return nil, fmt.Errorf("open snapshot adapter: %w", err)
	}
	return adapter, nil
}

var bucketTombstoneCmd = &cobra.Command{
	Use:   "tombstone <bucket-id>",
	Short: "Mark a bucket deleted, keeping it readable for archival access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := openBucketAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()

		ctx := context.Background()
		if err := adapter.Tombstone(ctx, types.BucketHandle{ID: args[0]}); err != nil {
			return fmt.Errorf("tombstone bucket %s: %w", args[0], err)
		}
		fmt.Printf("bucket %s tombstoned\n", args[0])
		return nil
	},
}

var bucketCloneCmd = &cobra.Command{
	Use:   "clone <bucket-id> <new-name>",
	Short: "Make a server-side copy of a bucket under a new name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := openBucketAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()

		ctx := context.Background()
		handle, err := adapter.Clone(ctx, types.BucketHandle{ID: args[0]}, args[1])
		if err != nil {
			return fmt.Errorf("clone bucket %s: %w", args[0], err)
		}
		fmt.Printf("cloned bucket %s -> %s (new id: %s)\n", args[0], args[1], handle.ID)
		return nil
	},
}

var bucketInspectCmd = &cobra.Command{
	Use:   "inspect <bucket-id>",
	Short: "List the paths a bucket's snapshot currently holds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := openBucketAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()

		ctx := context.Background()
		paths, err := adapter.ListPaths(ctx, types.BucketHandle{ID: args[0]})
		if err != nil {
			return fmt.Errorf("inspect bucket %s: %w", args[0], err)
		}
		if len(paths) == 0 {
			fmt.Printf("bucket %s has no materialized paths\n", args[0])
			return nil
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}
