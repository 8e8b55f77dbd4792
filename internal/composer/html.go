package composer

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HeadHTML renders every head section as HTML tags, one per line, sections
// in the order of Sections and entries in insertion order.
func (c *Composer) HeadHTML() string {
	var b strings.Builder
	for _, section := range Sections {
		for _, entry := range c.head[section].Entries {
			node := headNode(section, entry)
			if node == nil {
				continue
			}
			if err := html.Render(&b, node); err != nil {
				continue
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func headNode(section string, e HeadEntry) *html.Node {
	if !e.Structured() && e.Text == "" {
		return nil
	}

	switch section {
	case SectionMeta:
		if e.Structured() {
			return element(atom.Meta, nil, e.Attrs)
		}
		if e.Key == "" {
			return element(atom.Meta, []html.Attribute{{Key: "content", Val: e.Text}}, nil)
		}
		return element(atom.Meta, []html.Attribute{{Key: "name", Val: e.Key}, {Key: "content", Val: e.Text}}, nil)

	case SectionCSS:
		return linkNode("stylesheet", e)

	case SectionJS:
		if e.Structured() {
			return element(atom.Script, nil, e.Attrs)
		}
		return element(atom.Script, []html.Attribute{{Key: "src", Val: e.Text}}, nil)

	case SectionFavicon:
		return linkNode("icon", e)

	case SectionCanonical:
		return linkNode("canonical", e)

	case SectionLink:
		return linkNode(e.Key, e)
	}
	return nil
}

func linkNode(rel string, e HeadEntry) *html.Node {
	var lead []html.Attribute
	if rel != "" {
		if _, ok := e.Attrs["rel"]; !ok {
			lead = append(lead, html.Attribute{Key: "rel", Val: rel})
		}
	}
	if e.Structured() {
		return element(atom.Link, lead, e.Attrs)
	}
	return element(atom.Link, append(lead, html.Attribute{Key: "href", Val: e.Text}), nil)
}

// element builds a childless element with lead attributes followed by attrs
// sorted by name.
func element(a atom.Atom, lead []html.Attribute, attrs map[string]string) *html.Node {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	all := append([]html.Attribute(nil), lead...)
	for _, k := range keys {
		all = append(all, html.Attribute{Key: k, Val: attrs[k]})
	}
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: a,
		Data:     a.String(),
		Attr:     all,
	}
}
