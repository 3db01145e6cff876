package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/docqa"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// NewAskCmd constructs the `docqa ask` command, which answers one question
// against a stored collection and prints the answer and its sources.
func NewAskCmd() *cobra.Command {
	var owner string
	var name string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a stored collection",
		Long: `Answer a question using the chunks of (--owner, --name) most relevant to it.

When MODEL_PROVIDER is set the answer is phrased by the chat model; otherwise
the most relevant excerpt is returned as-is.

Examples:
  docqa ask --owner u1 --name manual "what is the warranty period?"
  docqa ask --owner u1 --name manual --sources "how do I reset it?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			audit.LogTenantAccess(log, "ask", owner, name)

			defer tracing.Install(log, "docqa ask")()

			svc, b, err := buildService(ctx, log, nil, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer b.Close()

			res, err := svc.Query(ctx, owner, docqa.QueryRequest{
				Question: strings.Join(args, " "),
				Name:     name,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Answer)
			if showSources {
				for _, c := range res.SourceChunks {
					fmt.Fprintf(out, "\n[chunk %d, score %.3f]\n%s\n", c.ChunkIndex, c.Score, c.Text)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID the collection belongs to (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Collection name (required)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the retrieved chunks after the answer")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
