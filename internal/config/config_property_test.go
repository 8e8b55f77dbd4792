//go:build property
// +build property

package config

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestServerConfigProperties tests port and host validation properties
func TestServerConfigProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("port validation", prop.ForAll(
		func(port int) bool {
			cfg := validConfig()
			cfg.Server.Port = port
			r := ValidateConfigWithDetails(cfg)
			return r.Valid == (port >= 0 && port <= 65535)
		},
		gen.IntRange(-100000, 100000),
	))

	properties.Property("hosts with shell metacharacters are rejected", prop.ForAll(
		func(prefix, suffix string, meta string) bool {
			return validateHostname(prefix+meta+suffix) != nil
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.OneConstOf(";", "&", "|", "$", "`", "(", ")", "<", ">"),
	))

	properties.TestingRun(t)
}

// TestPathProperties tests relative path validation properties
func TestPathProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("plain relative paths are accepted", prop.ForAll(
		func(segments []string) bool {
			if len(segments) == 0 {
				return true
			}
			return validateRelativePath(strings.Join(segments, "/")) == nil
		},
		gen.SliceOfN(4, gen.RegexMatch(`^[a-z][a-z0-9_]{0,8}$`)),
	))

	properties.Property("absolute and escaping paths are rejected", prop.ForAll(
		func(name string, up int) bool {
			abs := validateRelativePath("/"+name) != nil
			escaping := validateRelativePath(strings.Repeat("../", up)+name) != nil
			return abs && escaping
		},
		gen.RegexMatch(`^[a-z]{1,8}$`),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// TestRouteValidationProperties tests route table validation properties
func TestRouteValidationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("well-formed routes produce no findings", prop.ForAll(
		func(segments []string, wildcard bool) bool {
			if len(segments) == 0 {
				return true
			}
			pattern := strings.Join(segments, "/")
			if wildcard {
				pattern += "/*"
			}
			cfg := validConfig()
			cfg.Router.Routes = []RouteEntry{
				{Pattern: "/", Module: "home"},
				{Pattern: pattern, Module: "page"},
			}
			r := ValidateConfigWithDetails(cfg)
			return r.Valid && !r.HasWarnings()
		},
		gen.SliceOfN(3, gen.RegexMatch(`^[a-z0-9]{1,6}$`)),
		gen.Bool(),
	))

	properties.Property("duplicate patterns always warn", prop.ForAll(
		func(n int) bool {
			cfg := validConfig()
			for i := 0; i < n; i++ {
				cfg.Router.Routes = append(cfg.Router.Routes, RouteEntry{Pattern: "same", Module: fmt.Sprintf("m%d", i)})
			}
			return len(ValidateConfigWithDetails(cfg).Warnings) == n-1
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
