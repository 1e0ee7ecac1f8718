package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"researchhub/backend/internal/di"
	"researchhub/backend/internal/seed"

	"github.com/spf13/cobra"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a fixture into the store",
		Long: `Load researchers, connections, pending requests and messages from a YAML fixture.

Without --file the built-in demo network is loaded. A fixture is applied once per
store: seeding the same file again changes nothing, and researchers already in
the directory keep their profiles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := loadFixture(file)
			if err != nil {
				return err
			}
			return withContainer(cmd, rootOpts, func(c *di.Container) error {
				sum, err := c.Seeder.Apply(cmd.Context(), fx)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts, sum, func(w io.Writer) {
					fmt.Fprintf(w, "Seeded %d users, %d connections, %d requests, %d messages\n",
						sum.Users, sum.Connections, sum.Requests, sum.Messages)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file (defaults to the demo network)")
	return cmd
}

func loadFixture(path string) (*seed.Fixture, error) {
	if path == "" {
		return seed.Demo()
	}
	return seed.LoadFile(path)
}

// RepairResult lists what a repair pass fixed.
type RepairResult struct {
	UserID              string         `json:"userId"`
	DroppedSentRequests []string       `json:"droppedSentRequests"`
	DroppedOrphans      []string       `json:"droppedOrphans"`
	RepairedThreads     map[string]int `json:"repairedThreads"`
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair one user's mirrored partitions",
		Long: `Run the same repairs a live session runs on every refresh.

Sent requests the recipient no longer holds are dropped. Connections whose peer
no longer holds the reverse mirror are dropped once they are older than
REPAIR_GRACE. Messages missing from the user's copy of each
conversation are copied back from the peer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, rootOpts, func(c *di.Container) error {
				ctx := cmd.Context()
				res := RepairResult{UserID: userID, RepairedThreads: map[string]int{}}

				stale, err := c.Engine.RepairSent(ctx, userID)
				if err != nil {
					return err
				}
				res.DroppedSentRequests = stale

				dropped, err := c.Registry.RepairOrphans(ctx, userID)
				if err != nil {
					return err
				}
				res.DroppedOrphans = dropped

				threads, err := c.Conversations.Threads(ctx, userID)
				if err != nil {
					return err
				}
				for _, th := range threads {
					n, err := c.Conversations.RepairMirror(ctx, userID, th.PeerID)
					if err != nil {
						return err
					}
					if n > 0 {
						res.RepairedThreads[th.PeerID] = n
					}
				}

				return output(cmd.OutOrStdout(), rootOpts, res, func(w io.Writer) {
					fmt.Fprintf(w, "Dropped %d stale sent requests\n", len(res.DroppedSentRequests))
					for _, id := range res.DroppedSentRequests {
						fmt.Fprintf(w, "  - %s\n", id)
					}
					fmt.Fprintf(w, "Dropped %d orphaned connections\n", len(res.DroppedOrphans))
					for _, id := range res.DroppedOrphans {
						fmt.Fprintf(w, "  - %s\n", id)
					}
					for peer, n := range res.RepairedThreads {
						fmt.Fprintf(w, "Restored %d messages with %s\n", n, peer)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id to repair")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a raw partition",
		Long:  `Print the JSON document stored under a partition key, e.g. connections:user_1.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, rootOpts, func(c *di.Container) error {
				blob, ok, err := c.Backend.Get(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("partition %q not found", key)
				}
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, blob, "", "  "); err != nil {
					return fmt.Errorf("partition %q is not valid JSON: %w", key, err)
				}
				pretty.WriteByte('\n')
				_, err = cmd.OutOrStdout().Write(pretty.Bytes())
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "partition key")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
