// Package cli implements collabctl, the operator tool for the partition store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"researchhub/backend/internal/config"
	"researchhub/backend/internal/di"
	"researchhub/backend/internal/logger"

	"github.com/spf13/cobra"
)

// Builder wires the services a command runs against.
type Builder func(ctx context.Context) (*di.Container, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Build  Builder
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command wired from environment configuration.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(buildFromEnv)
}

// NewRootCommandWith creates the root command over the given builder.
func NewRootCommandWith(build Builder) *cobra.Command {
	opts := &RootOptions{Build: build}

	cmd := &cobra.Command{
		Use:   "collabctl",
		Short: "Operate the researcher network store",
		Long:  "Seed, inspect and repair the partitions behind the researcher network.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

func buildFromEnv(ctx context.Context) (*di.Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return di.Build(ctx, cfg, log)
}

// withContainer builds the services, runs fn and releases them.
func withContainer(cmd *cobra.Command, opts *RootOptions, fn func(c *di.Container) error) error {
	c, err := opts.Build(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// output writes data as indented JSON, or calls text for the text format.
func output(w io.Writer, opts *RootOptions, data any, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(w)
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
