// Package catalog describes trace tags for the decoder: the format string of
// each tag and the byte width of each of its arguments.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"faultcore/internal/common"
	"faultcore/internal/diag"
)

//go:embed default.yaml
var defaultCatalog []byte

// Entry is one trace tag.
type Entry struct {
	ID     uint8  `yaml:"id"`
	Format string `yaml:"format"`
	Args   []int  `yaml:"args,omitempty"`
}

// ArgBytes is the total size of the arguments.
func (e Entry) ArgBytes() int {
	n := 0
	for _, a := range e.Args {
		n += a
	}
	return n
}

// Render formats the decoded argument values.
func (e Entry) Render(args []uint32) string {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	return fmt.Sprintf(e.Format, vals...)
}

type file struct {
	Tags []Entry `yaml:"tags"`
}

// Catalog is a validated set of tags.
type Catalog struct {
	entries   map[uint8]Entry
	maxMsgLen int
}

// New validates entries: unique non-zero ids, argument widths of 1, 2 or 4
// bytes, and one width per format verb.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{entries: make(map[uint8]Entry, len(entries))}
	for _, e := range entries {
		if e.ID == 0 {
			return nil, common.Errorf(diag.ErrArg, "tag id 0 is reserved")
		}
		if _, dup := c.entries[e.ID]; dup {
			return nil, common.Errorf(diag.ErrArg, "duplicate tag id %d", e.ID)
		}
		for _, a := range e.Args {
			if a != 1 && a != 2 && a != 4 {
				return nil, common.Errorf(diag.ErrArg, "tag %d: argument width %d not 1, 2 or 4", e.ID, a)
			}
		}
		if n := NumVerbs(e.Format); n != len(e.Args) {
			return nil, common.Errorf(diag.ErrArg, "tag %d: format %q has %d verbs for %d arguments",
				e.ID, e.Format, n, len(e.Args))
		}
		c.entries[e.ID] = e
		if l := 1 + e.ArgBytes(); l > c.maxMsgLen {
			c.maxMsgLen = l
		}
	}
	return c, nil
}

// Parse reads a YAML catalog. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Tags)
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %q: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in catalog of the recorder self-test tags.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Merge returns a catalog holding the entries of both. Ids must not clash.
func (c *Catalog) Merge(other *Catalog) (*Catalog, error) {
	return New(append(c.Entries(), other.Entries()...))
}

func (c *Catalog) Lookup(id uint8) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// MaxMsgLen is the longest encoded entry, tag byte included.
func (c *Catalog) MaxMsgLen() int { return c.maxMsgLen }

func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns the tags ordered by id.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Marshal writes the catalog as YAML.
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(file{Tags: c.Entries()})
}

// NumVerbs counts the arguments a format consumes; "%%" is a literal.
func NumVerbs(format string) int {
	n := 0
	pct := false
	for i := 0; i < len(format); i++ {
		ch := format[i]
		switch {
		case !pct && ch == '%':
			pct = true
		case pct:
			if ch != '%' {
				n++
			}
			pct = false
		}
	}
	return n
}
