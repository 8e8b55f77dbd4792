// Package cmd provides the command-line interface for folio with
// configuration loaded from several sources.
//
// Configuration System:
//
//	Values are resolved with this precedence:
//	1. Command-line flags (--config, --port, etc.) - highest priority
//	2. FOLIO_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (FOLIO_SERVER_PORT, etc.)
//	4. Configuration files (.folio.yml) - lowest priority
//
// Environment Variables:
//
//	FOLIO_CONFIG_FILE: Path to custom configuration file
//	FOLIO_SITE_ROOT: Override the site root
//	FOLIO_SERVER_PORT: Override server port
//	FOLIO_DEVELOPMENT_DEBUG: Enable debug rendering
//	And the rest following the FOLIO_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/folio/internal/app"
	"github.com/conneroisu/folio/internal/config"
)

var (
	cfgFile string
	initErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "A module-driven site server and publisher",
	Long: `Folio builds pages from modules: the URL picks a module through the route
table, the module runs inside a frame stack that can call further modules,
and the output is framed by the active template's header, content and footer
parts.

Quick Start:
  folio init mysite        Create a site skeleton
  folio serve              Start the development server
  folio render /about      Print the page for a path
  folio routes             Show the route table
  folio publish            Write the site as static files`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .folio.yml, can also use FOLIO_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "render with diagnostics and template debugging")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("development.debug", rootCmd.PersistentFlags().Lookup("debug"))
}

// initConfig wires the global viper instance to the configuration file and
// the FOLIO_ environment. Errors are kept until a command loads the config,
// so commands that need none still work with a broken file.
func initConfig() {
	initErr = config.Init(viper.GetViper(), cfgFile)
	if initErr == nil && viper.ConfigFileUsed() != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	if initErr != nil {
		return nil, initErr
	}
	return config.Load()
}

// loadApp builds the site for commands that render or serve it.
func loadApp(opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, opts...)
}
