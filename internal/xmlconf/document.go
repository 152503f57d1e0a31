// Package xmlconf edits XML configuration files living on remote hosts.
//
// Documents are parsed keeping every whitespace token so that unrelated parts
// of a file are written back exactly as they were read.
package xmlconf

import (
	"bytes"
	"fmt"

	"github.com/beevik/etree"
)

// Document is the parse tree of one remote XML file.
type Document struct {
	// Path is the remote path the document was read from.
	Path string

	tree *etree.Document
}

// Parse reads data as the content of the remote file at path.
func Parse(path string, data []byte) (*Document, error) {
	tree := etree.NewDocument()
	tree.ReadSettings.PreserveCData = true
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("could not parse %s: %v", path, err)
	}
	if tree.Root() == nil {
		return nil, fmt.Errorf("could not parse %s: no root element", path)
	}
	return &Document{Path: path, tree: tree}, nil
}

// Root returns the document element.
func (d *Document) Root() *etree.Element {
	return d.tree.Root()
}

// Serialize renders the document, adding an XML declaration if it has none.
func (d *Document) Serialize() ([]byte, error) {
	if !hasDeclaration(d.tree) {
		d.tree.InsertChildAt(0, etree.NewText("\n"))
		d.tree.InsertChildAt(0, etree.NewProcInst("xml", `version="1.0" encoding="UTF-8"`))
	}

	var buf bytes.Buffer
	if _, err := d.tree.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("could not serialize %s: %v", d.Path, err)
	}
	return buf.Bytes(), nil
}

func hasDeclaration(tree *etree.Document) bool {
	for _, t := range tree.Child {
		if p, ok := t.(*etree.ProcInst); ok && p.Target == "xml" {
			return true
		}
	}
	return false
}

// StripComments removes every comment in the document.
func (d *Document) StripComments() int {
	return RemoveComments(d.Root(), func(string) bool { return true })
}

// RemoveComments removes the comments below el whose text satisfies match.
func RemoveComments(el *etree.Element, match func(text string) bool) int {
	var n int
	for _, t := range append([]etree.Token(nil), el.Child...) {
		switch c := t.(type) {
		case *etree.Comment:
			if match(c.Data) {
				Remove(el, c)
				n++
			}
		case *etree.Element:
			n += RemoveComments(c, match)
		}
	}
	return n
}

// NewElement creates an element with attributes given as ordered key/value pairs.
func NewElement(tag string, attrs ...string) *etree.Element {
	if len(attrs)%2 != 0 {
		panic(fmt.Sprintf("odd number of attribute values for %s", tag))
	}
	el := etree.NewElement(tag)
	for i := 0; i < len(attrs); i += 2 {
		el.CreateAttr(attrs[i], attrs[i+1])
	}
	return el
}

// NewElementIn creates an element that adopts the namespace prefix of parent.
func NewElementIn(parent *etree.Element, tag string, attrs ...string) *etree.Element {
	el := NewElement(tag, attrs...)
	el.Space = parent.Space
	return el
}

// Matches reports whether el is the element local in namespace uri.
// An empty uri matches elements in no namespace only.
func Matches(el *etree.Element, uri, local string) bool {
	return el.Tag == local && el.NamespaceURI() == uri
}

// Children returns the direct children of parent named local in namespace uri.
func Children(parent *etree.Element, uri, local string) []*etree.Element {
	var r []*etree.Element
	for _, c := range parent.ChildElements() {
		if Matches(c, uri, local) {
			r = append(r, c)
		}
	}
	return r
}

// Descendants returns every element below parent named local in namespace uri,
// in document order.
func Descendants(parent *etree.Element, uri, local string) []*etree.Element {
	var r []*etree.Element
	for _, c := range parent.ChildElements() {
		if Matches(c, uri, local) {
			r = append(r, c)
		}
		r = append(r, Descendants(c, uri, local)...)
	}
	return r
}

// First returns the first descendant of parent named local in namespace uri
// carrying attr=value, or nil. An empty attr matches any element.
func First(parent *etree.Element, uri, local, attr, value string) *etree.Element {
	for _, c := range Descendants(parent, uri, local) {
		if attr == "" || c.SelectAttrValue(attr, "\x00") == value {
			return c
		}
	}
	return nil
}

// Remove detaches t from parent along with its trailing whitespace.
// When t is the last node, the whitespace before it is dropped instead so
// the indentation of the closing tag of parent survives.
func Remove(parent *etree.Element, t etree.Token) {
	idx := indexOf(parent, t)
	if idx < 0 {
		return
	}

	end := idx + 1
	for end < len(parent.Child) && isText(parent.Child[end]) {
		end++
	}
	start := idx
	if end == len(parent.Child) {
		p := idx
		for p > 0 && isText(parent.Child[p-1]) {
			p--
		}
		if p > 0 {
			// Keep the tail, drop the indentation before t.
			start, end = p, idx+1
		}
	}

	for i := end - 1; i >= start; i-- {
		parent.RemoveChildAt(i)
	}
}

// nodeIndex returns the token index of the n-th non text node of parent,
// right after its leading whitespace, or the end of the children.
func nodeIndex(parent *etree.Element, n int) int {
	seen := 0
	for i, t := range parent.Child {
		if isText(t) {
			continue
		}
		if seen == n {
			return i
		}
		seen++
	}
	return len(parent.Child)
}

// NodePosition returns the position of t among the non text nodes of parent, or -1.
func NodePosition(parent *etree.Element, t etree.Token) int {
	pos := 0
	for _, c := range parent.Child {
		if c == t {
			return pos
		}
		if !isText(c) {
			pos++
		}
	}
	return -1
}

func indexOf(parent *etree.Element, t etree.Token) int {
	for i, c := range parent.Child {
		if c == t {
			return i
		}
	}
	return -1
}

func isText(t etree.Token) bool {
	_, ok := t.(*etree.CharData)
	return ok
}
