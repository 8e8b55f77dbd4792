// Package cmd provides the command-line interface for folio.
//
// This package implements all CLI commands using the Cobra framework.
//
// # Available Commands
//
//   - init: Create a site skeleton
//   - serve: Start the development server with hot reload
//   - render: Print the page for a path
//   - routes: Show the route table, or how one path resolves
//   - modules: List the modules the site can run
//   - publish: Write the site as static files and optionally upload it to S3
//   - config: Show or validate the configuration
//   - version: Show version information
//
// # Command Examples
//
//	// Start the development server on another port
//	folio serve --port 3000
//
//	// Render a page with query parameters
//	folio render /blog/first -q page=2
//
//	// Show how a path resolves, as JSON
//	folio routes match /docs/intro -o json
//
//	// Publish, rendering wildcard pages too
//	folio publish /blog/first /blog/second
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (FOLIO_*)
//  3. Configuration file (.folio.yml)
//  4. Default values (lowest priority)
package cmd
