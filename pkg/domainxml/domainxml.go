// Package domainxml reads and patches the few sub-trees of a libvirt domain
// definition the agent cares about: disk sources, interface targets, vcpu and
// memory sizing. Everything else in the document is carried through opaque.
package domainxml

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Node is one element of the definition document. The generic tree keeps the
// whole document round-trippable while the agent only touches named paths.
type Node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []*Node    `xml:",any"`
}

// Parse decodes a definition document into its element tree.
func Parse(doc string) (*Node, error) {
	root := &Node{}
	if err := xml.Unmarshal([]byte(doc), root); err != nil {
		return nil, fmt.Errorf("failed to parse domain xml: %w", err)
	}
	return root, nil
}

// String re-encodes the tree.
func (n *Node) String() (string, error) {
	out, err := xml.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to encode domain xml: %w", err)
	}
	return string(out), nil
}

// Find returns the first element at the slash-separated path below n, or nil.
func (n *Node) Find(path string) *Node {
	matches := n.FindAll(path)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// FindAll returns every element at the slash-separated path below n.
func (n *Node) FindAll(path string) []*Node {
	current := []*Node{n}
	for _, seg := range strings.Split(path, "/") {
		var next []*Node
		for _, c := range current {
			for _, child := range c.Nodes {
				if child.XMLName.Local == seg {
					next = append(next, child)
				}
			}
		}
		current = next
	}
	return current
}

// Attr returns the named attribute's value, or "".
func (n *Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// SetAttr sets or adds the named attribute.
func (n *Node) SetAttr(name, value string) {
	for i, a := range n.Attrs {
		if a.Name.Local == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// TrimmedText returns the element's character data without surrounding
// whitespace.
func (n *Node) TrimmedText() string {
	return strings.TrimSpace(n.Text)
}

// SetText replaces the element's character data.
func (n *Node) SetText(s string) {
	n.Text = s
}
