package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/router"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("      %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("      %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateSiteConfigDetails(&config.Site, result)
	validateTemplateConfigDetails(config, result)
	validateRouterConfigDetails(&config.Router, result)
	validateServerConfigDetails(&config.Server, result)
	validatePublishConfigDetails(&config.Publish, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateSiteConfigDetails(config *SiteConfig, result *ValidationResult) {
	for _, f := range []struct{ field, value string }{
		{"site.modules_dir", config.ModulesDir},
		{"site.templates_dir", config.TemplatesDir},
	} {
		field, value := f.field, f.value
		if err := validateRelativePath(value); err != nil {
			result.addError(field, value, err.Error(),
				"Use a directory relative to the site root",
				"Default: "+strings.TrimPrefix(field, "site."))
		}
	}

	if config.BaseURL != "" && !strings.HasPrefix(config.BaseURL, "/") {
		result.addWarning("site.base_url", config.BaseURL, "base URL should start with '/'",
			"Example: base_url: /docs")
	}
}

func validateTemplateConfigDetails(config *Config, result *ValidationResult) {
	name := config.Template.Template
	if name == "" {
		result.addError("template.name", name, "template not specified",
			"Set template.name to a directory under "+config.Site.TemplatesDir)
		return
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		result.addError("template.name", name, "template name must be a single directory name")
	}
}

func validateRouterConfigDetails(config *RouterConfig, result *ValidationResult) {
	hasBareWildcard := false
	hasPrefix := false
	seen := make(map[string]bool, len(config.Routes))

	for i, route := range config.Routes {
		field := fmt.Sprintf("router.routes[%d]", i)

		if route.Pattern == "" {
			result.addError(field+".pattern", route.Pattern, "route pattern is empty",
				"Use '/' for the root, 'a/b' for a literal path, 'a/*' for a prefix")
			continue
		}
		if seen[route.Pattern] {
			result.addWarning(field+".pattern", route.Pattern, "duplicate pattern, the last entry wins")
		}
		seen[route.Pattern] = true

		if route.Module == "" {
			result.addWarning(field+".module", route.Module,
				fmt.Sprintf("route %q has no module and never matches", route.Pattern))
		}

		switch {
		case route.Pattern == router.WildcardPattern:
			hasBareWildcard = true
		case route.Pattern == router.RootPattern:
		case strings.HasPrefix(route.Pattern, "/") || strings.HasSuffix(route.Pattern, "/"):
			result.addWarning(field+".pattern", route.Pattern, "pattern has a leading or trailing '/' and never matches",
				"Write patterns without surrounding slashes, e.g. 'blog/*'")
		case strings.Contains(route.Pattern, "*") && !strings.HasSuffix(route.Pattern, "/*"):
			result.addWarning(field+".pattern", route.Pattern, "'*' is only a wildcard as the last segment")
		default:
			if strings.HasSuffix(route.Pattern, "/*") {
				hasPrefix = true
			}
		}
	}

	if hasBareWildcard && hasPrefix {
		result.addWarning("router.routes", router.WildcardPattern,
			"the bare wildcard is consulted before prefix routes and shadows them")
	}

	for i, hook := range config.Before {
		if strings.TrimSpace(hook) == "" {
			result.addError(fmt.Sprintf("router.before[%d]", i), hook, "hook name is empty")
		}
	}
	if config.BeforeFalse == "" && len(config.Before) > 0 {
		result.addWarning("router.before_false", "", "before hooks are configured without a fallback module",
			"Refused requests are answered by the "+router.NotFoundModule+" module")
	}

	if config.RoutesFile != "" {
		if err := validateRelativePath(config.RoutesFile); err != nil {
			result.addError("router.routes_file", config.RoutesFile, err.Error())
		}
	}
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.addError("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access",
			"Common development ports: 3000, 8080, 8000, 3001",
			"Port 0 allows system to assign an available port",
		)
	} else if config.Port > 0 && config.Port < 1024 {
		result.addWarning("server.port", config.Port, "port below 1024 requires elevated privileges",
			"Consider using a port above 1024 for development")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.addError("server.host", config.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces",
			)
		}
	}
}

func validatePublishConfigDetails(config *PublishConfig, result *ValidationResult) {
	if err := validateRelativePath(config.Output); err != nil {
		result.addError("publish.output", config.Output, err.Error(),
			"Use a directory relative to the site root, e.g. 'public'")
	}
	if config.Prefix != "" && strings.HasPrefix(config.Prefix, "/") {
		result.addWarning("publish.prefix", config.Prefix, "S3 keys should not start with '/'")
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.addError("log.level", config.Level, err.Error(),
			"Available levels: debug, info, warn, error, fatal")
	}
	if config.Format != "text" && config.Format != "json" {
		result.addError("log.format", config.Format, fmt.Sprintf("unknown log format %q", config.Format),
			"Use 'text' or 'json'")
	}
}

// Helper validation functions

func validateRelativePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("path should be relative: %s", path)
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}
