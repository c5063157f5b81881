// ABOUTME: Immutable model catalog: the known model ids, the public subset and the default
// ABOUTME: Loaded once at startup from a TOML file or the built-in list, never mutated afterwards

package catalog

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Catalog is the process-wide, read-only set of valid model identifiers.
type Catalog struct {
	models       []string
	known        map[string]struct{}
	public       map[string]struct{}
	defaultModel string
}

// New validates and freezes a catalog. models keeps its order. public must be a
// subset of models and defaultModel must be one of them.
func New(models, public []string, defaultModel string) (*Catalog, error) {
	if len(models) == 0 {
		return nil, errors.New("catalog has no models")
	}

	c := &Catalog{
		models: make([]string, 0, len(models)),
		known:  make(map[string]struct{}, len(models)),
		public: make(map[string]struct{}, len(public)),
	}

	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, errors.New("catalog contains an empty model id")
		}
		if _, dup := c.known[m]; dup {
			return nil, fmt.Errorf("catalog lists model %q twice", m)
		}
		c.known[m] = struct{}{}
		c.models = append(c.models, m)
	}

	for _, m := range public {
		if _, ok := c.known[m]; !ok {
			return nil, fmt.Errorf("public model %q is not in the catalog", m)
		}
		c.public[m] = struct{}{}
	}

	if defaultModel == "" {
		defaultModel = c.models[0]
	}
	if _, ok := c.known[defaultModel]; !ok {
		return nil, fmt.Errorf("default model %q is not in the catalog", defaultModel)
	}
	c.defaultModel = defaultModel

	return c, nil
}

// IsKnown reports whether id is a catalog model.
func (c *Catalog) IsKnown(id string) bool {
	_, ok := c.known[id]
	return ok
}

// IsPublic reports whether id may be used by anyone.
func (c *Catalog) IsPublic(id string) bool {
	_, ok := c.public[id]
	return ok
}

// Default returns the process-wide default model.
func (c *Catalog) Default() string {
	return c.defaultModel
}

// Models returns every model in catalog order.
func (c *Catalog) Models() []string {
	return slices.Clone(c.models)
}

// Public returns the public models in catalog order.
func (c *Catalog) Public() []string {
	out := make([]string, 0, len(c.public))
	for _, m := range c.models {
		if c.IsPublic(m) {
			out = append(out, m)
		}
	}
	return out
}

// FreeModels returns the catalog models whose id marks them as free of charge.
// It is the public set used when nothing else is configured.
func FreeModels(models []string) []string {
	var out []string
	for _, m := range models {
		if strings.Contains(m, "free") {
			out = append(out, m)
		}
	}
	return out
}

// File is the on-disk TOML layout of a catalog.
//
//	models  = ["openai/gpt-4o", "meta-llama/llama-3.1-8b-instruct:free"]
//	public  = ["meta-llama/llama-3.1-8b-instruct:free"]
//	default = "meta-llama/llama-3.1-8b-instruct:free"
type File struct {
	Models  []string  `toml:"models"`
	Public  *[]string `toml:"public"`
	Default string    `toml:"default"`
}

// ReadFile decodes a TOML catalog file without validating it.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown catalog keys: %v", undecoded)
	}
	return &f, nil
}

// Options overrides parts of a catalog source. Nil Public keeps the source's value.
type Options struct {
	Public  *[]string
	Default string
}

// Load builds a catalog from path (or the built-in list when path is empty),
// applying overrides. Without any public list the free models are public.
func Load(path string, opts Options) (*Catalog, error) {
	src := &File{Models: BuiltinModels()}
	if path != "" {
		f, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		src = f
	}

	public := FreeModels(src.Models)
	if src.Public != nil {
		public = *src.Public
	}
	if opts.Public != nil {
		public = *opts.Public
	}

	defaultModel := src.Default
	if opts.Default != "" {
		defaultModel = opts.Default
	}

	return New(src.Models, public, defaultModel)
}
