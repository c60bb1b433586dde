// Package schema defines the tool-group descriptors served by the gateway and
// loads them from a folder.
//
// A schema groups related API routes under one namespace. Each route becomes
// one MCP tool once activated. Schemas are decoded once and never mutated
// afterwards; every consumer shares the same pointers.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrMissingNamespace is returned for a decoded schema without a namespace.
var ErrMissingNamespace = errors.New("schema has no namespace")

// Parameter types understood by tool derivation.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Parameter locations in the outgoing API request.
const (
	LocationQuery  = "query"
	LocationPath   = "path"
	LocationBody   = "body"
	LocationHeader = "header"
)

// Schema describes one callable tool group.
type Schema struct {
	Namespace            string            `json:"namespace" yaml:"namespace" toml:"namespace"`
	Name                 string            `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	Description          string            `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Tags                 []string          `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags"`
	Root                 string            `json:"root,omitempty" yaml:"root,omitempty" toml:"root"`
	Headers              map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers"`
	RequiredServerParams []string          `json:"requiredServerParams,omitempty" yaml:"requiredServerParams,omitempty" toml:"requiredServerParams"`
	Imports              []string          `json:"imports,omitempty" yaml:"imports,omitempty" toml:"imports"`
	Routes               Routes            `json:"routes" yaml:"routes" toml:"routes"`
	Metadata             map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty" toml:"metadata"`
}

// Route is a single API operation within a schema.
type Route struct {
	Name        string  `json:"-" yaml:"-" toml:"-"`
	Method      string  `json:"method" yaml:"method" toml:"method"`
	Path        string  `json:"path" yaml:"path" toml:"path"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Parameters  []Param `json:"parameters,omitempty" yaml:"parameters,omitempty" toml:"parameters"`
}

// Param declares one argument of a route.
type Param struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Type        string   `json:"type" yaml:"type" toml:"type"`
	Location    string   `json:"location,omitempty" yaml:"location,omitempty" toml:"location"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty" toml:"required"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty" toml:"enum"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty" toml:"min"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty" toml:"max"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty" toml:"default"`
}

// Routes keeps routes in declaration order. JSON and TOML objects carry no
// order, so those decoders sort by name; YAML mappings keep file order.
type Routes []Route

// UnmarshalYAML decodes a mapping of route name to route, preserving order.
func (r *Routes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("routes: expected mapping, got %v", node.Tag)
	}
	out := make(Routes, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var route Route
		if err := node.Content[i+1].Decode(&route); err != nil {
			return fmt.Errorf("route %q: %w", node.Content[i].Value, err)
		}
		route.Name = node.Content[i].Value
		out = append(out, route)
	}
	*r = out
	return nil
}

// UnmarshalJSON decodes an object of route name to route.
func (r *Routes) UnmarshalJSON(data []byte) error {
	var m map[string]Route
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = fromMap(m)
	return nil
}

// UnmarshalTOML decodes a TOML table of route tables.
func (r *Routes) UnmarshalTOML(data any) error {
	tables, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("routes: expected table, got %T", data)
	}
	// Round-trip through YAML so TOML tables reuse the struct tags above.
	raw, err := yaml.Marshal(tables)
	if err != nil {
		return err
	}
	var m map[string]Route
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return err
	}
	*r = fromMap(m)
	return nil
}

func fromMap(m map[string]Route) Routes {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(Routes, 0, len(names))
	for _, name := range names {
		route := m[name]
		route.Name = name
		out = append(out, route)
	}
	return out
}

// RouteNames returns route names in declaration order.
func (s *Schema) RouteNames() []string {
	names := make([]string, len(s.Routes))
	for i, r := range s.Routes {
		names[i] = r.Name
	}
	return names
}

// Validate checks the fields every loaded schema must have.
func (s *Schema) Validate() error {
	if s.Namespace == "" {
		return ErrMissingNamespace
	}
	return nil
}
