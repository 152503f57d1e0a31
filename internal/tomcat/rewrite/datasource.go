package rewrite

import (
	"log/slog"

	"github.com/beevik/etree"
	"github.com/michr/ops-toolkit/internal/tomcat"
	"github.com/michr/ops-toolkit/internal/xmlconf"
)

const propertiesEnvironment = "configuration.properties.file"

// contextIndent matches the four spaces used for the children of Context.
var contextIndent = xmlconf.Indent{Unit: "  "}

// Datasource declares the database connection pool of a server in context.xml.
// YHR servers also get the environment entry pointing at their properties file.
type Datasource struct {
	family         tomcat.Family
	source         tomcat.Datasource
	propertiesFile string
}

// NewDatasource returns the rewriter for server.
func NewDatasource(server tomcat.ServerTarget, layout tomcat.Layout) (*Datasource, error) {
	src, err := server.Datasource()
	if err != nil {
		return nil, err
	}
	return &Datasource{
		family:         server.Family(),
		source:         src,
		propertiesFile: layout.PropertiesFile(),
	}, nil
}

// Rewrite implements xmlconf.Rewriter.
func (r *Datasource) Rewrite(doc *xmlconf.Document) error {
	root := doc.Root()

	// Drop what a previous run added so that runs converge.
	for _, el := range root.ChildElements() {
		if r.owns(el) {
			xmlconf.Remove(root, el)
		}
	}

	var nodes []xmlconf.Tailed
	if r.family == tomcat.YHR {
		nodes = append(nodes, xmlconf.Tailed{Node: r.environment(), Tail: contextIndent.Blank(2)})
	}
	nodes = append(nodes, xmlconf.Tailed{Node: r.resource(), Tail: "\n"})

	slog.Info("Adding datasource", "file", doc.Path, "resource", r.source.ResourceName, "family", r.family)
	contextIndent.AppendAfterLast(root, 2, nodes...)
	return nil
}

func (r *Datasource) owns(el *etree.Element) bool {
	name := el.SelectAttrValue("name", "")
	switch el.Tag {
	case "Resource":
		return name == r.source.ResourceName
	case "Environment":
		return r.family == tomcat.YHR && name == propertiesEnvironment
	}
	return false
}

func (r *Datasource) environment() *etree.Element {
	return xmlconf.NewElement("Environment",
		"name", propertiesEnvironment,
		"value", r.propertiesFile,
		"type", "java.lang.String",
		"override", "false")
}

func (r *Datasource) resource() *etree.Element {
	attrs := []string{
		"name", r.source.ResourceName,
		"auth", "Container",
		"factory", "oracle.ucp.jdbc.PoolDataSourceImpl",
		"connectionFactoryClassName", "oracle.jdbc.pool.OracleDataSource",
		"type", "oracle.ucp.jdbc.PoolDataSource",
	}
	if r.family == tomcat.Nabu {
		attrs = append(attrs,
			"description", "Oracle UCP JNDI Connection Pool for DCR",
			"maxActive", "20",
			"maxIdle", "10",
			"maxWait", "-1",
			// Credentials are filled in by hand on the server.
			"user", "",
			"password", "")
	} else {
		attrs = append(attrs,
			"description", "Oracle UCP JNDI Connection Pool for YourHealthResearch",
			"maxActive", "",
			"maxIdle", "10",
			"maxWait", "-1")
	}
	attrs = append(attrs,
		"url", r.source.URL,
		"initialPoolSize", "3",
		"minPoolSize", "3",
		"maxPoolSize", "100",
		"maxStatements", "100",
		"connectionWaitTimeout", "30",
		"inactiveConnectionTimeout", "3600",
		"validateConnectionOnBorrow", "true")

	return xmlconf.NewElement("Resource", attrs...)
}

// Validate implements xmlconf.Rewriter.
func (r *Datasource) Validate(serialized []byte) ([]string, error) {
	selectors := []xmlconf.Selector{{Tag: "Resource", Attr: "name", Value: r.source.ResourceName}}
	if r.family == tomcat.YHR {
		selectors = append([]xmlconf.Selector{{Tag: "Environment", Attr: "name", Value: propertiesEnvironment}}, selectors...)
	}
	return xmlconf.RequireElements(serialized, selectors...)
}

// ResourceName is the JNDI name of the declared pool.
func (r *Datasource) ResourceName() string {
	return r.source.ResourceName
}
