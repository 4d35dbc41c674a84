// Package cli implements layerctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/service"
)

// Backend is everything the commands act on.
type Backend interface {
	BulkDecide(ctx context.Context, d service.BulkDecision) (model.BulkResult, error)
	EventStats(ctx context.Context, eventID uuid.UUID) (model.EventStats, error)
	CreateInvite(ctx context.Context, in service.CreateInviteInput) (model.InviteCode, error)
	Unlock(ctx context.Context, userID uuid.UUID, actor string) error
	Migrate(ctx context.Context) error
}

// Connector opens a Backend. The returned func releases it.
type Connector func(ctx context.Context) (Backend, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	connect Connector
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the layerctl root command.
func NewRootCommand(connect Connector) *cobra.Command {
	opts := &RootOptions{connect: connect}

	cmd := &cobra.Command{
		Use:   "layerctl",
		Short: "Operate a layergate deployment",
		Long:  "Administrative commands for access requests, events, invites and cipher locks.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRequestsCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	cmd.AddCommand(newInvitesCommand(opts))
	cmd.AddCommand(newCipherCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

// withBackend connects, runs fn and releases the connection.
func (o *RootOptions) withBackend(cmd *cobra.Command, fn func(Backend) error) error {
	b, release, err := o.connect(cmd.Context())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer release()
	return fn(b)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
