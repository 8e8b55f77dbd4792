package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/conneroisu/folio/internal/app"
)

var renderCmd = &cobra.Command{
	Use:     "render <path>",
	Aliases: []string{"r"},
	Short:   "Render the page for a path",
	Long: `Resolve a path through the route table, run its module and print the
finished page. Errors are reported instead of a page; a path nothing matches
prints the not-found page and exits with an error.

Examples:
  folio render /                       # Print the home page
  folio render /blog/first -q page=2   # Pass query parameters
  folio render /about --content-only   # Module output without the template
  folio render /blog --trace           # Print module spans to stderr`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderFlags *StandardFlags
	renderTrace bool
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderFlags = AddStandardFlags(renderCmd, "request")
	renderCmd.Flags().BoolVar(&renderTrace, "trace", false, "Print module spans to stderr")
}

func runRender(cmd *cobra.Command, args []string) error {
	query, err := renderFlags.ParseQuery()
	if err != nil {
		return err
	}

	var opts []app.Option
	if renderTrace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create span exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		opts = append(opts, app.WithTracerProvider(tp))
	}

	a, err := loadApp(opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	return renderPage(cmd.Context(), cmd.OutOrStdout(), a, args[0], query, renderFlags.ContentOnly)
}

// renderPage writes the page for rawPath to w. Nothing is written when the
// module fails.
func renderPage(ctx context.Context, w io.Writer, a *app.App, rawPath string, query url.Values, contentOnly bool) error {
	var buf bytes.Buffer
	req, err := a.Engine().NewRequest(ctx, &buf, rawPath, query)
	if err != nil {
		return err
	}
	defer req.Close(ctx)

	req.Composer.SetContentOnly(contentOnly)
	if err := req.Run(ctx); err != nil {
		return err
	}
	if _, err := buf.WriteTo(w); err != nil {
		return err
	}

	if status := req.Status(); status >= 400 {
		return fmt.Errorf("%s: %d %s", req.FullPath(), status, http.StatusText(status))
	}
	return nil
}
