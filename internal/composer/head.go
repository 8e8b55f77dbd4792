package composer

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Head sections.
const (
	SectionMeta      = "meta"
	SectionCSS       = "css"
	SectionJS        = "js"
	SectionFavicon   = "favicon"
	SectionCanonical = "canonical"
	SectionLink      = "link"
)

// Sections lists the head sections in the order HeadHTML renders them.
var Sections = []string{SectionMeta, SectionCSS, SectionJS, SectionFavicon, SectionCanonical, SectionLink}

// assetSections hold references to files shipped with the template. Meta and
// canonical values are stored as given.
var assetSections = map[string]bool{
	SectionCSS:     true,
	SectionJS:      true,
	SectionFavicon: true,
	SectionLink:    true,
}

// linkFields are the structured-entry fields that may carry a reference,
// in lookup order.
var linkFields = []string{"src", "href"}

// HeadEntry is one head value: plain text, or a set of attributes when
// Attrs is non-nil.
type HeadEntry struct {
	Key   string
	Text  string
	Attrs map[string]string
}

// Structured reports whether the entry carries attributes.
func (e HeadEntry) Structured() bool {
	return e.Attrs != nil
}

// HeadValue is the content of one section: a single scalar entry, or a
// collection of entries keyed by name in insertion order.
type HeadValue struct {
	Keyed   bool
	Entries []HeadEntry
}

// Scalar returns the single entry of an unkeyed section.
func (v HeadValue) Scalar() (HeadEntry, bool) {
	if v.Keyed || len(v.Entries) == 0 {
		return HeadEntry{}, false
	}
	return v.Entries[0], true
}

// Get returns the entry stored under key.
func (v HeadValue) Get(key string) (HeadEntry, bool) {
	for _, e := range v.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return HeadEntry{}, false
}

func (v HeadValue) clone() HeadValue {
	out := HeadValue{Keyed: v.Keyed, Entries: make([]HeadEntry, len(v.Entries))}
	for i, e := range v.Entries {
		if e.Attrs != nil {
			attrs := make(map[string]string, len(e.Attrs))
			for k, a := range e.Attrs {
				attrs[k] = a
			}
			e.Attrs = attrs
		}
		out.Entries[i] = e
	}
	return out
}

func newHead() map[string]HeadValue {
	return map[string]HeadValue{
		SectionMeta:      {Keyed: true},
		SectionCSS:       {Keyed: true},
		SectionJS:        {Keyed: true},
		SectionFavicon:   {},
		SectionCanonical: {},
		SectionLink:      {Keyed: true},
	}
}

// SetHead registers value in section. An empty key replaces the section with
// a single entry; any other key stores into the section's collection. value
// is a string or a map of attributes.
//
// Local references in asset sections must exist in the template directory;
// when they do they are rewritten to their public path with a cache-busting
// version appended. A missing asset, an unknown section or an unsupported
// value leaves the head untouched and returns false.
func (c *Composer) SetHead(ctx context.Context, section, key string, value any) bool {
	current, ok := c.head[section]
	if !ok {
		return false
	}

	entry, ok := toHeadEntry(key, value)
	if !ok {
		c.diagnose(ctx, fmt.Sprintf("unsupported head value for %s: %T", section, value))
		return false
	}

	if assetSections[section] {
		field, ref := entry.reference()
		if ref != "" && isLocalReference(ref) {
			public, ok := c.publishAsset(ctx, ref)
			if !ok {
				return false
			}
			if field == "" {
				entry.Text = public
			} else {
				entry.Attrs[field] = public
			}
		}
	}

	if key == "" {
		c.head[section] = HeadValue{Entries: []HeadEntry{entry}}
		return true
	}

	if !current.Keyed {
		current = HeadValue{Keyed: true}
	}
	for i, e := range current.Entries {
		if e.Key == key {
			current.Entries[i] = entry
			c.head[section] = current
			return true
		}
	}
	current.Entries = append(current.Entries, entry)
	c.head[section] = current
	return true
}

// Head returns a copy of section's value. The second result is false for
// unknown sections.
func (c *Composer) Head(section string) (HeadValue, bool) {
	v, ok := c.head[section]
	if !ok {
		return HeadValue{}, false
	}
	return v.clone(), true
}

// publishAsset checks ref against the template directory and returns the
// public path with the version suffix.
func (c *Composer) publishAsset(ctx context.Context, ref string) (string, bool) {
	filePart, query := ref, ""
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		filePart, query = ref[:i], ref[i+1:]
	}

	public := path.Join("/", c.config.Template, filePart)
	if !c.loader.AssetExists(filePart) {
		c.diagnose(ctx, "file not exists: "+public)
		return "", false
	}

	if query != "" {
		public += "?" + query
	}
	if version := c.assetVersion(); version != "" {
		if query != "" {
			public += "&" + version
		} else {
			public += "?" + version
		}
	}
	return public, true
}

// assetVersion is the configured version, replaced by a fresh random number
// on every call in debug mode.
func (c *Composer) assetVersion() string {
	if c.debug {
		return fmt.Sprint(c.random())
	}
	if v, ok := c.config.Vars["version"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// reference returns the field holding the entry's reference ("" for plain
// text entries) and the reference itself.
func (e HeadEntry) reference() (string, string) {
	if !e.Structured() {
		return "", e.Text
	}
	for _, f := range linkFields {
		if v, ok := e.Attrs[f]; ok && v != "" {
			return f, v
		}
	}
	return "", ""
}

// isLocalReference reports whether ref points into the site rather than at
// another origin.
func isLocalReference(ref string) bool {
	if strings.HasPrefix(ref, "//") {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme == ""
}

func toHeadEntry(key string, value any) (HeadEntry, bool) {
	switch v := value.(type) {
	case string:
		return HeadEntry{Key: key, Text: v}, true
	case map[string]string:
		attrs := make(map[string]string, len(v))
		for k, a := range v {
			attrs[k] = a
		}
		return HeadEntry{Key: key, Attrs: attrs}, true
	case map[string]any:
		attrs := make(map[string]string, len(v))
		for k, a := range v {
			attrs[k] = fmt.Sprint(a)
		}
		return HeadEntry{Key: key, Attrs: attrs}, true
	case fmt.Stringer:
		return HeadEntry{Key: key, Text: v.String()}, true
	default:
		return HeadEntry{}, false
	}
}
