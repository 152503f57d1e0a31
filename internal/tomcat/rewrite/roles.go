package rewrite

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/michr/ops-toolkit/internal/xmlconf"
)

// JakartaNS is the namespace of web application descriptors.
const JakartaNS = "https://jakarta.ee/xml/ns/jakartaee"

const (
	developersRole = "michr-developers"
	auxLoginRole   = "michr-aux-login"

	rolesComment = " Security roles referenced by this web application "
)

var roleDescriptions = map[string]string{
	developersRole: "The role that grants full administrator access defined in LDAP",
	auxLoginRole: "The role that is required to access the text Manager pages defined in LDAP. " +
		"This role should only have one user assigned to it, and it is michr-jenkins.",
}

// ProtectedResource binds a web resource collection to the exact roles allowed on it.
type ProtectedResource struct {
	Name  string
	Roles []string
}

// RoleTable is the access control policy of one web application.
type RoleTable struct {
	Resources []ProtectedResource
	// Exact requires the resource name to be equal instead of contained.
	Exact bool
}

// ManagerRoles is the policy of the manager application.
var ManagerRoles = RoleTable{
	Resources: []ProtectedResource{
		{Name: "HTML Manager interface", Roles: []string{developersRole}},
		{Name: "Text Manager interface", Roles: []string{developersRole, auxLoginRole}},
		{Name: "JMX Proxy interface", Roles: []string{developersRole}},
		{Name: "Status interface", Roles: []string{developersRole, auxLoginRole}},
	},
}

// HostManagerRoles is the policy of the host-manager application.
var HostManagerRoles = RoleTable{
	Resources: []ProtectedResource{
		{Name: "HostManager commands", Roles: []string{developersRole}},
		{Name: "HTMLHostManager commands", Roles: []string{developersRole}},
	},
	Exact: true,
}

func (t RoleTable) lookup(name string) (ProtectedResource, bool) {
	name = strings.TrimSpace(name)
	for _, r := range t.Resources {
		if (t.Exact && name == r.Name) || (!t.Exact && strings.Contains(name, r.Name)) {
			return r, true
		}
	}
	return ProtectedResource{}, false
}

// declared is the union of every role of the table, in first use order.
func (t RoleTable) declared() []string {
	var roles []string
	for _, r := range t.Resources {
		for _, role := range r.Roles {
			if !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		}
	}
	return roles
}

// webIndent is the two spaces per level layout of web.xml.
var webIndent = xmlconf.Indent{Unit: "  "}

// Roles rewrites the role bindings and role declarations of a web.xml.
type Roles struct {
	table RoleTable
}

// NewRoles returns a rewriter enforcing table.
func NewRoles(table RoleTable) *Roles {
	return &Roles{table: table}
}

// Rewrite implements xmlconf.Rewriter.
func (r *Roles) Rewrite(doc *xmlconf.Document) error {
	in := webIndent
	root := doc.Root()

	for _, c := range xmlconf.Descendants(root, JakartaNS, "security-constraint") {
		name := xmlconf.First(c, JakartaNS, "web-resource-name", "", "")
		auth := xmlconf.First(c, JakartaNS, "auth-constraint", "", "")
		if name == nil || auth == nil {
			continue
		}
		res, ok := r.table.lookup(name.Text())
		if !ok {
			continue
		}

		for _, role := range xmlconf.Descendants(auth, JakartaNS, "role-name") {
			xmlconf.Remove(role.Parent(), role)
		}
		for i, role := range res.Roles {
			tail := in.Line(3)
			if i == len(res.Roles)-1 {
				tail = in.Line(2)
			}
			el := xmlconf.NewElementIn(auth, "role-name")
			el.SetText(role)
			xmlconf.Append(auth, xmlconf.Tailed{Node: el, Tail: tail})
		}
		slog.Info("Bound roles", "file", doc.Path, "resource", res.Name, "roles", res.Roles)
	}

	for _, sr := range xmlconf.Descendants(root, JakartaNS, "security-role") {
		xmlconf.Remove(sr.Parent(), sr)
	}
	xmlconf.RemoveComments(root, func(text string) bool {
		return strings.Contains(text, strings.TrimSpace(rolesComment))
	})

	nodes := []xmlconf.Tailed{{Node: etree.NewComment(rolesComment), Tail: in.Line(1)}}
	for _, role := range r.table.declared() {
		nodes = append(nodes, xmlconf.Tailed{Node: securityRole(root, role), Tail: in.Line(1)})
	}
	last := &nodes[len(nodes)-1]

	// Declarations go before the error pages, or close the document.
	if anchor := xmlconf.First(root, JakartaNS, "error-page", "", ""); anchor != nil {
		last.Tail = in.Blank(1)
		parent := anchor.Parent()
		xmlconf.InsertAt(parent, xmlconf.NodePosition(parent, anchor), nodes...)
	} else {
		last.Tail = "\n"
		in.AppendAfterLast(root, 1, nodes...)
	}

	return nil
}

func securityRole(root *etree.Element, role string) *etree.Element {
	in := webIndent

	sr := xmlconf.NewElementIn(root, "security-role")
	sr.AddChild(etree.NewText(in.Line(2)))

	desc := xmlconf.NewElementIn(root, "description")
	desc.SetText(roleDescriptions[role])
	name := xmlconf.NewElementIn(root, "role-name")
	name.SetText(role)

	xmlconf.Append(sr,
		xmlconf.Tailed{Node: desc, Tail: in.Line(2)},
		xmlconf.Tailed{Node: name, Tail: in.Line(1)},
	)
	return sr
}

// Validate implements xmlconf.Rewriter.
//
// Every protected resource must be bound to exactly its roles, and the
// declared roles must be exactly the roles in use.
func (r *Roles) Validate(serialized []byte) ([]string, error) {
	doc, err := xmlconf.Parse("", serialized)
	if err != nil {
		return nil, fmt.Errorf("rewritten content is not well formed: %v", err)
	}
	root := doc.Root()

	bound := make(map[string][]string)
	found := make(map[string]bool)
	for _, c := range xmlconf.Descendants(root, JakartaNS, "security-constraint") {
		name := xmlconf.First(c, JakartaNS, "web-resource-name", "", "")
		if name == nil {
			continue
		}
		res, ok := r.table.lookup(name.Text())
		if !ok {
			continue
		}
		found[res.Name] = true
		for _, auth := range xmlconf.Descendants(c, JakartaNS, "auth-constraint") {
			for _, role := range xmlconf.Descendants(auth, JakartaNS, "role-name") {
				bound[res.Name] = append(bound[res.Name], strings.TrimSpace(role.Text()))
			}
		}
	}

	var problems []string
	for _, res := range r.table.Resources {
		if !found[res.Name] {
			problems = append(problems, fmt.Sprintf("%s not found", res.Name))
			continue
		}
		if !sameSet(bound[res.Name], res.Roles) {
			problems = append(problems, fmt.Sprintf("%s has incorrect roles: %v, expected: %v", res.Name, bound[res.Name], res.Roles))
		}
	}

	var declared []string
	for _, sr := range xmlconf.Descendants(root, JakartaNS, "security-role") {
		for _, n := range xmlconf.Children(sr, JakartaNS, "role-name") {
			declared = append(declared, strings.TrimSpace(n.Text()))
		}
	}
	if want := r.table.declared(); !sameSet(declared, want) {
		problems = append(problems, fmt.Sprintf("security roles incorrect: %v, expected: %v", declared, want))
	}

	return problems, nil
}

// sameSet reports whether a and b hold the same members, ignoring order and repetition.
func sameSet(a, b []string) bool {
	in := func(s []string) map[string]bool {
		m := make(map[string]bool, len(s))
		for _, v := range s {
			m[v] = true
		}
		return m
	}
	ma, mb := in(a), in(b)
	if len(ma) != len(mb) {
		return false
	}
	for k := range ma {
		if !mb[k] {
			return false
		}
	}
	return true
}
