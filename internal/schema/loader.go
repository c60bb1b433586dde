package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"github.com/FlowMCP/remote-mcp-authkit/internal/cache"
)

// Metadata keys added when LoadOptions.AddMetadata is set.
const (
	MetaSource     = "source"
	MetaFile       = "file"
	MetaSHA256     = "sha256"
	MetaRouteCount = "routeCount"
)

// LoadOptions narrow and decorate what Load returns.
type LoadOptions struct {
	ExcludeImports      bool
	ExcludeServerParams bool
	AddMetadata         bool
}

func (o LoadOptions) key() string {
	return fmt.Sprintf("imports=%t,params=%t,meta=%t", o.ExcludeImports, o.ExcludeServerParams, o.AddMetadata)
}

// Loader reads schema files from a filesystem. Results are cached until the
// TTL expires or the set of files changes.
type Loader struct {
	fsys   fs.FS
	source string
	logger *slog.Logger
	cache  *cache.Cache[[]*Schema]
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSource sets the label recorded under the "source" metadata key.
func WithSource(source string) LoaderOption {
	return func(l *Loader) { l.source = source }
}

// WithCacheTTL sets how long a load result is reused.
func WithCacheTTL(ttl time.Duration) LoaderOption {
	return func(l *Loader) { l.cache = cache.New[[]*Schema](ttl, 8) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader over fsys.
func NewLoader(fsys fs.FS, opts ...LoaderOption) *Loader {
	l := &Loader{
		fsys:   fsys,
		source: "builtin",
		logger: slog.Default(),
		cache:  cache.New[[]*Schema](5*time.Minute, 8),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load decodes every schema file, drops the ones excluded by opts and returns
// the rest in lexical file order. An undecodable file or a schema without a
// namespace fails the whole load.
func (l *Loader) Load(ctx context.Context, opts LoadOptions) ([]*Schema, error) {
	files, fingerprint, err := l.scan()
	if err != nil {
		return nil, fmt.Errorf("scan schemas: %w", err)
	}

	return l.cache.GetOrLoad(opts.key(), fingerprint, func() ([]*Schema, error) {
		return l.read(ctx, files, opts)
	})
}

func (l *Loader) read(ctx context.Context, files []string, opts LoadOptions) ([]*Schema, error) {
	var out []*Schema
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := fs.ReadFile(l.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		s, err := Decode(name, data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		if opts.ExcludeImports && len(s.Imports) > 0 {
			l.logger.Debug("schema skipped", "namespace", s.Namespace, "reason", "imports")
			continue
		}
		if opts.ExcludeServerParams && len(s.RequiredServerParams) > 0 {
			l.logger.Debug("schema skipped", "namespace", s.Namespace, "reason", "server params")
			continue
		}
		if opts.AddMetadata {
			sum := sha256.Sum256(data)
			meta := make(map[string]any, len(s.Metadata)+4)
			for k, v := range s.Metadata {
				meta[k] = v
			}
			meta[MetaSource] = l.source
			meta[MetaFile] = name
			meta[MetaSHA256] = hex.EncodeToString(sum[:])
			meta[MetaRouteCount] = len(s.Routes)
			s.Metadata = meta
		}
		out = append(out, s)
	}

	l.logger.Info("schemas loaded", "source", l.source, "files", len(files), "schemas", len(out))
	return out, nil
}

// scan lists schema files in lexical order and fingerprints them by name,
// size and modification time. Hidden files and directories are skipped.
func (l *Loader) scan() ([]string, string, error) {
	var files, entries []string
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if p != "." && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Supported(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, p)
		entries = append(entries, fmt.Sprintf("%s:%d:%d", p, info.Size(), info.ModTime().UnixNano()))
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	sort.Strings(files)
	sort.Strings(entries)
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e))
	}
	return files, fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Supported reports whether name has a schema file extension.
func Supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".yaml", ".yml", ".toml", ".md":
		return true
	}
	return false
}

var frontmatterFormats = []*frontmatter.Format{
	frontmatter.NewFormat("---", "---", yaml.Unmarshal),
	frontmatter.NewFormat("+++", "+++", toml.Unmarshal),
}

// Decode parses one schema file, picking the format from the extension.
// Markdown files carry the schema as YAML or TOML front matter; the body
// becomes the description when the front matter has none.
func Decode(name string, data []byte) (*Schema, error) {
	var s Schema
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, err
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &s); err != nil {
			return nil, err
		}
	case ".md":
		body, err := frontmatter.MustParse(bytes.NewReader(data), &s, frontmatterFormats...)
		if err != nil {
			return nil, err
		}
		if s.Description == "" {
			s.Description = strings.TrimSpace(string(body))
		}
	default:
		return nil, fmt.Errorf("unsupported schema file %q", name)
	}
	return &s, nil
}
