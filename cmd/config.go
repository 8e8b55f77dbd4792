package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/folio/internal/app"
	"github.com/conneroisu/folio/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect folio configuration",
	Long: `Inspect folio configuration files and settings.

Examples:
  folio config show                    # Show the resolved configuration
  folio config show -o json            # Same as JSON
  folio config validate                # Validate .folio.yml and the site
  folio config validate --file site.yml --strict`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a folio configuration file, then check that the site it describes
can be built and that every routed module exists.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration after loading the file, applying FOLIO_
environment overrides, command-line flags and defaults.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var (
	configFile   string
	configStrict bool
	configFormat string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configValidateCmd.Flags().StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: --config or .folio.yml)")
	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")

	configShowCmd.Flags().StringVarP(&configFormat, "output", "o", FormatYAML, "Output format (yaml, json)")
	AddFlagValidation(configShowCmd, "output", func(format string) error {
		return ValidateFormat(format, []string{FormatYAML, FormatJSON})
	})
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configFormat == FormatJSON {
		return writeJSON(cmd.OutOrStdout(), cfg)
	}
	return writeYAML(cmd.OutOrStdout(), cfg)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	file := configFile
	if file == "" {
		file = cfgFile
	}

	v := viper.New()
	if err := config.Init(v, file); err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("no configuration file found. Use --file to specify a config file " +
			"or run 'folio init' to create a site")
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	return validateConfig(cmd.OutOrStdout(), v.ConfigFileUsed(), &cfg, configStrict)
}

// validateConfig reports problems with cfg and with the site it points at.
func validateConfig(w io.Writer, file string, cfg *config.Config, strict bool) error {
	fmt.Fprintf(w, "Validating configuration file: %s\n", file)

	result := config.ValidateConfigWithDetails(cfg)
	if result.HasErrors() {
		fmt.Fprint(w, result.String())
		return fmt.Errorf("configuration validation failed with %d errors", len(result.Errors))
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("site cannot be built: %w", err)
	}
	defer a.Close()

	var missing []string
	for _, m := range collectModules(a) {
		if m.Source == "missing" {
			missing = append(missing, m.Name)
		}
	}
	for _, name := range missing {
		result.Warnings = append(result.Warnings, config.ValidationError{
			Field:   "router.routes",
			Value:   name,
			Message: fmt.Sprintf("routed module %q does not exist", name),
			Suggestions: []string{
				fmt.Sprintf("create %s", a.Loader.ModulePath(name)),
			},
		})
	}

	if !result.HasWarnings() {
		fmt.Fprintln(w, "Configuration is valid.")
		return nil
	}

	fmt.Fprint(w, result.String())
	if strict {
		return fmt.Errorf("configuration validation failed in strict mode with %d warnings", len(result.Warnings))
	}
	fmt.Fprintf(w, "Configuration is valid with %d warnings. Use --strict to treat warnings as errors.\n", len(result.Warnings))
	return nil
}
