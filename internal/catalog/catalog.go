// Package catalog reads the gadget catalog: the exported API functions of
// the target library, with their signatures and referenced types.
package catalog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/apifuzz/internal/ir"
)

// Catalog is the ordered list of gadgets of one library.
type Catalog struct {
	Library string      `yaml:"library"`
	Gadgets []ir.Gadget `yaml:"gadgets"`
}

// Load reads a catalog YAML file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Read decodes a catalog and drops repeated names, keeping the first.
// A gadget without a name is an error.
func Read(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty catalog")
		}
		return nil, fmt.Errorf("decode: %w", err)
	}

	seen := make(map[string]bool, len(c.Gadgets))
	kept := c.Gadgets[:0]
	for i, g := range c.Gadgets {
		g.Name = strings.TrimSpace(g.Name)
		if g.Name == "" {
			return nil, fmt.Errorf("gadget %d has no name", i)
		}
		if seen[g.Name] {
			slog.Warn("duplicate gadget dropped", "gadget", g.Name)
			continue
		}
		seen[g.Name] = true
		kept = append(kept, g)
	}
	c.Gadgets = kept
	if len(c.Gadgets) == 0 {
		return nil, fmt.Errorf("catalog lists no gadgets")
	}
	return &c, nil
}

// Names returns the gadget names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Gadgets))
	for i, g := range c.Gadgets {
		names[i] = g.Name
	}
	sort.Strings(names)
	return names
}

// Lookup returns the gadget called name.
func (c *Catalog) Lookup(name string) (ir.Gadget, bool) {
	for _, g := range c.Gadgets {
		if g.Name == name {
			return g, true
		}
	}
	return ir.Gadget{}, false
}
