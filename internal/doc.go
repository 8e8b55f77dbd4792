// Package internal contains the core implementation packages for folio.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - router: Route table matching with before-hooks and positional extras
//   - dispatch: Module resolution and the per-request frame stack
//   - composer: Template parts, module and variable tokens, head sections
//   - engine: Per-request wiring of matcher, dispatcher and composer
//   - site: Loading parts, module templates and file modules from disk
//   - config: Configuration management with validation
//   - errors: Structured errors, diagnostics and suggestions
//   - logging: Structured logging over log/slog
//   - di: Scoped instance container
//   - server: Development server, hot reload and metrics
//   - watcher: File system monitoring with debouncing
//   - publish: Static output and S3 upload
//   - app: Assembly of the above from a configuration
//
// # Request Flow
//
// A path is parsed into segments, matched against the route table, and the
// selected module runs on a fresh frame stack. Its output becomes the page
// content, which the composer frames with the template's header, content and
// footer parts before expanding module and variable tokens.
package internal
