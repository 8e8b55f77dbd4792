package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/folio/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:     "publish [path...]",
	Aliases: []string{"b", "build"},
	Short:   "Write the site as static files",
	Long: `Render every literal route, plus any extra paths, to <path>/index.html
under the output directory and copy the template's assets next to them. Pages
that answer 404 are skipped. With a bucket configured the files are uploaded
to S3 as well; credentials come from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
and AWS_SESSION_TOKEN, and FOLIO_S3_ENDPOINT selects an S3-compatible store.

Examples:
  folio publish                          # Render to ./public
  folio publish /blog/first /blog/second # Also render wildcard pages
  folio publish --bucket my-site --region eu-west-1`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringP("output-dir", "d", "public", "Directory to write the site to, relative to the site root")
	publishCmd.Flags().String("bucket", "", "S3 bucket to upload to")
	publishCmd.Flags().String("prefix", "", "Key prefix inside the bucket")
	publishCmd.Flags().String("region", "", "AWS region of the bucket")

	_ = viper.BindPFlag("publish.output", publishCmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("publish.bucket", publishCmd.Flags().Lookup("bucket"))
	_ = viper.BindPFlag("publish.prefix", publishCmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("publish.region", publishCmd.Flags().Lookup("region"))
}

func runPublish(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.Config.Publish.Paths = append(a.Config.Publish.Paths, args...)
	p, err := a.NewPublisher()
	if err != nil {
		return err
	}

	result, err := p.Publish(cmd.Context())
	if err != nil {
		return err
	}
	writePublishSummary(cmd.OutOrStdout(), a.Config.SitePath(a.Config.Publish.Output), result)
	return nil
}

func writePublishSummary(w io.Writer, output string, result *publish.Result) {
	for _, page := range result.Pages {
		fmt.Fprintf(w, "  %-30s %s (%d bytes)\n", page.Path, page.File, page.Bytes)
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped (not found): %s\n", strings.Join(result.Skipped, ", "))
	}
	fmt.Fprintf(w, "Published %d pages and %d assets to %s\n", len(result.Pages), len(result.Assets), output)
	if result.Uploaded > 0 {
		fmt.Fprintf(w, "Uploaded %d files\n", result.Uploaded)
	}
}
