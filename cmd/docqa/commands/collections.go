package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/logging"
)

// NewCollectionsCmd constructs the `docqa collections` command, which lists
// the collections an owner has created.
func NewCollectionsCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List an owner's collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			audit.LogTenantAccess(log, "collections", owner, "")

			svc, b, err := buildService(ctx, log, nil, nil)
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			defer b.Close()

			recs, err := svc.Collections(ctx, owner)
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCREATED")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\n", r.CollectionName, r.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID (required)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
