// Package mcpfilter decides which schemas a gateway instance exposes.
// Namespace allow and deny lists apply first, then tag activation.
package mcpfilter

import (
	"log/slog"

	"github.com/FlowMCP/remote-mcp-authkit/internal/schema"
)

// Options selects schemas by namespace and tag. Empty lists impose no
// restriction.
type Options struct {
	IncludeNamespaces []string
	ExcludeNamespaces []string
	ActivateTags      []string
}

// Filter returns the schemas allowed by opts, in input order.
func Filter(schemas []*schema.Schema, opts Options) []*schema.Schema {
	return FilterFunc(schemas,
		func(s *schema.Schema) string { return s.Namespace },
		func(s *schema.Schema) []string { return s.Tags },
		opts,
	)
}

// FilterFunc applies the namespace and tag policy to any item type.
//
// Per item, in order: a non-empty include list drops namespaces it does not
// name, the exclude list drops namespaces it names, and a non-empty tag list
// drops items sharing no tag with it.
func FilterFunc[T any](
	items []T,
	getNamespace func(T) string,
	getTags func(T) []string,
	opts Options,
) []T {
	include := setOf(opts.IncludeNamespaces)
	exclude := setOf(opts.ExcludeNamespaces)
	tags := setOf(opts.ActivateTags)

	seen := make(map[string]bool, len(items))
	filtered := make([]T, 0, len(items))
	for _, item := range items {
		ns := getNamespace(item)
		seen[ns] = true
		switch {
		case len(include) > 0 && !include[ns]:
			continue
		case exclude[ns]:
			continue
		case len(tags) > 0 && !intersects(getTags(item), tags):
			continue
		}
		filtered = append(filtered, item)
	}

	for _, ns := range opts.IncludeNamespaces {
		if !seen[ns] {
			slog.Warn("mcpfilter: included namespace not found", "namespace", ns)
		}
	}
	return filtered
}

func setOf(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func intersects(own []string, want map[string]bool) bool {
	for _, t := range own {
		if want[t] {
			return true
		}
	}
	return false
}
