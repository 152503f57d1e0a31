package xmlconf

import (
	"strings"

	"github.com/beevik/etree"
)

// Indent decides the whitespace written around inserted nodes.
type Indent struct {
	// Unit is one level of indentation.
	Unit string
}

// Line is a newline followed by level units.
func (in Indent) Line(level int) string {
	return "\n" + strings.Repeat(in.Unit, level)
}

// Blank is an empty line followed by level units.
func (in Indent) Blank(level int) string {
	return "\n" + in.Line(level)
}

// Continue extends the trailing whitespace of an existing node so that a
// node appended after it starts on its own line at level, separated by an
// empty line.
func (in Indent) Continue(tail string, level int) string {
	switch {
	case tail == "":
		return in.Blank(level)
	case strings.HasSuffix(tail, in.Blank(level)):
		return tail
	case strings.HasSuffix(tail, in.Line(level)):
		return tail + in.Line(level)
	case strings.HasSuffix(tail, "\n"):
		return tail + strings.Repeat(in.Unit, level)
	default:
		return tail + in.Blank(level)
	}
}

// Tailed is a node paired with the whitespace written after it.
type Tailed struct {
	Node etree.Token
	Tail string
}

// InsertAt inserts nodes before the n-th non text node of parent, after any
// leading whitespace. n past the last node appends.
func InsertAt(parent *etree.Element, n int, nodes ...Tailed) {
	i := nodeIndex(parent, n)
	for _, t := range nodes {
		parent.InsertChildAt(i, t.Node)
		i++
		if t.Tail != "" {
			parent.InsertChildAt(i, etree.NewText(t.Tail))
			i++
		}
	}
}

// Append adds nodes at the end of parent.
func Append(parent *etree.Element, nodes ...Tailed) {
	for _, t := range nodes {
		parent.AddChild(t.Node)
		if t.Tail != "" {
			parent.AddChild(etree.NewText(t.Tail))
		}
	}
}

// AppendAfterLast appends nodes to parent reusing the trailing whitespace of
// its current last node as the layout template: that whitespace is extended
// with Continue and the final appended node always ends with a newline so the
// closing tag of parent stays at the start of a line.
func (in Indent) AppendAfterLast(parent *etree.Element, level int, nodes ...Tailed) {
	if len(nodes) == 0 {
		return
	}

	end := len(parent.Child)
	start := end
	for start > 0 && isText(parent.Child[start-1]) {
		start--
	}
	if start > 0 {
		var tail strings.Builder
		for _, t := range parent.Child[start:end] {
			tail.WriteString(t.(*etree.CharData).Data)
		}
		for i := end - 1; i >= start; i-- {
			parent.RemoveChildAt(i)
		}
		parent.AddChild(etree.NewText(in.Continue(tail.String(), level)))
	}

	nodes = append([]Tailed(nil), nodes...)
	if last := &nodes[len(nodes)-1]; !strings.HasSuffix(last.Tail, "\n") {
		last.Tail += "\n"
	}
	Append(parent, nodes...)
}
