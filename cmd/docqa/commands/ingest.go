package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/docqa"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// NewIngestCmd constructs the `docqa ingest` command, which chunks, embeds
// and stores one document's text under a named collection.
func NewIngestCmd() *cobra.Command {
	var owner string
	var name string
	var pages int
	var file string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store a document's text in a named collection",
		Long: `Chunk, embed and store the text of one document under (--owner, --name).

The text must already be extracted (e.g. with pdftotext). --pages is the page
count of the source document; larger documents are split into larger chunks.

Ingesting into an existing collection adds to it. If the embedding service
rate limits the run, the chunks stored so far are kept and the command
reports how far it got.

Examples:
  docqa ingest --owner u1 --name manual --pages 5 --file manual.txt
  pdftotext manual.pdf - | docqa ingest --owner u1 --name manual --pages 40 --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			audit.LogTenantAccess(log, "ingest", owner, name)

			text, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			var bar *progressbar.ProgressBar
			progress := func(done, total int) {
				if quiet {
					return
				}
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionSetDescription("embedding"),
						progressbar.OptionSetWidth(32),
						progressbar.OptionShowCount(),
						progressbar.OptionClearOnFinish(),
						progressbar.OptionSetTheme(progressbar.Theme{
							Saucer:        "=",
							SaucerHead:    ">",
							SaucerPadding: " ",
							BarStart:      "[",
							BarEnd:        "]",
						}),
					)
				}
				_ = bar.Set(done)
			}

			svc, b, err := buildService(ctx, log, nil, progress)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer b.Close()

			resp, err := svc.Ingest(ctx, owner, docqa.IngestRequest{
				Text:       text,
				Name:       name,
				TotalPages: pages,
			})
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				var abort *rag.AbortError
				if errors.As(err, &abort) {
					log.Warn("ingestion aborted",
						slog.Int("chunk_index", abort.Index),
						slog.Int("persisted", abort.Persisted),
						slog.Int("total", abort.Total),
					)
				}
				var interrupted *rag.InterruptedError
				if errors.As(err, &interrupted) {
					log.Warn("ingestion interrupted",
						slog.Int("persisted", interrupted.Persisted),
						slog.Int("total", interrupted.Total),
					)
				}
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s into %q\n", resp.Message(), name)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID the collection belongs to (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Collection name (required)")
	cmd.Flags().IntVar(&pages, "pages", 1, "Page count of the source document")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Text file to ingest, or - for stdin (required)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable the progress bar")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readInput returns the contents of path, or of stdin when path is "-".
func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
