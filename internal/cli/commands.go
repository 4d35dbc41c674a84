package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/service"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

func newRequestsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Decide pending access requests",
	}
	cmd.AddCommand(newDecideCommand(opts, true), newDecideCommand(opts, false))
	return cmd
}

func newDecideCommand(opts *RootOptions, approve bool) *cobra.Command {
	var (
		ids    []string
		actor  string
		reason string
	)
	use, short := "deny", "Deny access requests"
	if approve {
		use, short = "approve", "Approve access requests, admitting or waitlisting each requester"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseIDs(ids)
			if err != nil {
				return err
			}
			return opts.withBackend(cmd, func(b Backend) error {
				res, err := b.BulkDecide(cmd.Context(), service.BulkDecision{
					IDs:     parsed,
					Approve: approve,
					Actor:   actor,
					Reason:  reason,
				})
				if err != nil {
					return err
				}
				return opts.formatter(cmd).Success(res, func(w io.Writer) error {
					printf(w, "%s: %d succeeded, %d failed\n", use, res.Succeeded, res.Failed)
					for _, e := range res.Errors {
						printf(w, "  %s: %s\n", e.ID, e.Reason)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "comma-separated request ids")
	cmd.Flags().StringVar(&actor, "actor", "", "operator recorded on the decision")
	cmd.Flags().StringVar(&reason, "reason", "", "optional reason shown to the requester")
	_ = cmd.MarkFlagRequired("ids")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func newEventsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect events",
	}

	var event string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show pass counts, pending requests and capacity for an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(event)
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", event, err)
			}
			return opts.withBackend(cmd, func(b Backend) error {
				st, err := b.EventStats(cmd.Context(), id)
				if err != nil {
					return err
				}
				return opts.formatter(cmd).Success(st, func(w io.Writer) error {
					writeStats(w, st)
					return nil
				})
			})
		},
	}
	stats.Flags().StringVar(&event, "event", "", "event id")
	_ = stats.MarkFlagRequired("event")

	cmd.AddCommand(stats)
	return cmd
}

func writeStats(w io.Writer, st model.EventStats) {
	printf(w, "event %s\n", st.EventID)
	statuses := make([]string, 0, len(st.ByStatus))
	for s := range st.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		printf(w, "  %-10s %d\n", s, st.ByStatus[model.PassStatus(s)])
	}
	printf(w, "  pending requests: %d\n", st.PendingRequests)
	c := st.Capacity
	if c.Unlimited {
		printf(w, "  capacity: unlimited (%d confirmed)\n", c.Confirmed)
		return
	}
	printf(w, "  capacity: %d/%d (%d%%, %s), %d waitlisted\n", c.Confirmed, *c.Capacity, c.PercentFull, c.Urgency, c.Waitlisted)
}

func newInvitesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites",
		Short: "Manage enrollment invites",
	}

	var (
		tierName  string
		maxUses   int
		expiresIn time.Duration
		actor     string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint a new invite code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := tier.Parse(tierName)
			if err != nil {
				return err
			}
			return opts.withBackend(cmd, func(b Backend) error {
				inv, err := b.CreateInvite(cmd.Context(), service.CreateInviteInput{
					DefaultTier: t,
					MaxUses:     maxUses,
					ExpiresIn:   expiresIn,
					Actor:       actor,
				})
				if err != nil {
					return err
				}
				return opts.formatter(cmd).Success(inv, func(w io.Writer) error {
					printf(w, "%s (tier %s", inv.Code, inv.DefaultTier)
					if inv.MaxUses > 0 {
						printf(w, ", %d uses", inv.MaxUses)
					}
					if inv.ExpiresAt != nil {
						printf(w, ", expires %s", inv.ExpiresAt.Format(time.RFC3339))
					}
					printf(w, ")\n")
					return nil
				})
			})
		},
	}
	create.Flags().StringVar(&tierName, "tier", tier.Initiate.String(), "default tier granted by the invite")
	create.Flags().IntVar(&maxUses, "max-uses", 1, "redemptions allowed, 0 for unlimited")
	create.Flags().DurationVar(&expiresIn, "expires-in", 0, "lifetime such as 72h, 0 never expires")
	create.Flags().StringVar(&actor, "actor", "layerctl", "operator recorded as the creator")

	cmd.AddCommand(create)
	return cmd
}

func newCipherCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cipher",
		Short: "Administer member second factors",
	}

	var user, actor string
	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Clear a member's failed attempts and lockout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", user, err)
			}
			return opts.withBackend(cmd, func(b Backend) error {
				if err := b.Unlock(cmd.Context(), id, actor); err != nil {
					return err
				}
				return opts.formatter(cmd).Success(map[string]string{"user_id": id.String()}, func(w io.Writer) error {
					printf(w, "unlocked %s\n", id)
					return nil
				})
			})
		},
	}
	unlock.Flags().StringVar(&user, "user", "", "member user id")
	unlock.Flags().StringVar(&actor, "actor", "layerctl", "operator recorded on the unlock")
	_ = unlock.MarkFlagRequired("user")

	cmd.AddCommand(unlock)
	return cmd
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(b Backend) error {
				if err := b.Migrate(cmd.Context()); err != nil {
					return err
				}
				return opts.formatter(cmd).Success(map[string]string{"schema": "applied"}, func(w io.Writer) error {
					printf(w, "schema applied\n")
					return nil
				})
			})
		},
	}
}
