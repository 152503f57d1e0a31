// Package rewrite holds the rewriters applied to the configuration files of a new Tomcat release.
package rewrite

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/beevik/etree"
	"github.com/michr/ops-toolkit/internal/xmlconf"
)

const (
	lockOutRealm      = "org.apache.catalina.realm.LockOutRealm"
	jndiRealm         = "org.apache.catalina.realm.JNDIRealm"
	userDatabaseRealm = "org.apache.catalina.realm.UserDatabaseRealm"
	secretKeyHandler  = "org.apache.catalina.realm.SecretKeyCredentialHandler"
	accessLogValve    = "org.apache.catalina.valves.AccessLogValve"
	http2Protocol     = "org.apache.coyote.http2.Http2Protocol"

	tlsCiphers = "ECDHE-ECDSA-AES128-GCM-SHA256:ECDHE-RSA-AES128-GCM-SHA256:" +
		"ECDHE-ECDSA-AES256-GCM-SHA384:ECDHE-RSA-AES256-GCM-SHA384:" +
		"ECDHE-ECDSA-CHACHA20-POLY1305:ECDHE-RSA-CHACHA20-POLY1305:" +
		"DHE-RSA-AES128-GCM-SHA256:DHE-RSA-AES256-GCM-SHA384"
)

// serverIndent is the two spaces per level layout of server.xml.
var serverIndent = xmlconf.Indent{Unit: "  "}

// Connectors rewrites server.xml: the listeners of the Catalina service,
// the realm chain and the deployment and access log settings.
type Connectors struct {
	certHost string
}

// NewConnectors returns a rewriter using the certificate files of certHost.
func NewConnectors(certHost string) *Connectors {
	return &Connectors{certHost: certHost}
}

func (r *Connectors) certificateFile() string {
	return fmt.Sprintf("/app/certificates/public/%s.med.umich.edu.crt", r.certHost)
}

func (r *Connectors) certificateKeyFile() string {
	return fmt.Sprintf("/app/certificates/private/%s.med.umich.edu.key", r.certHost)
}

// Rewrite implements xmlconf.Rewriter.
func (r *Connectors) Rewrite(doc *xmlconf.Document) error {
	in := serverIndent
	doc.StripComments()

	service := xmlconf.First(doc.Root(), "", "Service", "name", "Catalina")
	if service == nil {
		return errors.New("no Catalina Service element")
	}

	old := xmlconf.Children(service, "", "Connector")
	slog.Info("Removing existing connectors", "file", doc.Path, "count", len(old))
	for _, c := range old {
		xmlconf.Remove(service, c)
	}

	xmlconf.InsertAt(service, 0,
		xmlconf.Tailed{Node: r.httpConnector(), Tail: in.Line(2)},
		xmlconf.Tailed{Node: r.tlsConnector(), Tail: in.Line(2)},
		xmlconf.Tailed{Node: r.ajpConnector(), Tail: in.Blank(2)},
	)

	engines := xmlconf.Children(service, "", "Engine")
	if len(engines) == 0 {
		return errors.New("no Engine element")
	}
	engine := engines[0]

	realm := xmlconf.First(engine, "", "Realm", "className", lockOutRealm)
	if realm == nil {
		return errors.New("no LockOutRealm element")
	}
	children := realm.ChildElements()
	slog.Info("Removing existing realms", "file", doc.Path, "count", len(children))
	for _, c := range children {
		xmlconf.Remove(realm, c)
	}

	userRealm := xmlconf.NewElement("Realm",
		"className", userDatabaseRealm,
		"resourceName", "UserDatabase")
	xmlconf.Append(userRealm, xmlconf.Tailed{
		Node: xmlconf.NewElement("CredentialHandler",
			"className", secretKeyHandler,
			"algorithm", "PBKDF2WithHmacSHA512",
			"keyLength", "512"),
		Tail: in.Line(4),
	})
	xmlconf.Append(realm,
		xmlconf.Tailed{Node: jndiRealmElement(), Tail: in.Line(4)},
		xmlconf.Tailed{Node: userRealm, Tail: in.Line(3)},
	)

	if host := xmlconf.First(engine, "", "Host", "name", "localhost"); host != nil {
		host.CreateAttr("autoDeploy", "false")
		if valve := xmlconf.First(host, "", "Valve", "className", accessLogValve); valve != nil {
			valve.CreateAttr("rotatable", "false")
			valve.CreateAttr("requestAttributesEnabled", "true")
		}
	}

	return nil
}

func (r *Connectors) httpConnector() *etree.Element {
	return xmlconf.NewElement("Connector",
		"port", "8080",
		"protocol", "HTTP/1.1",
		"connectionTimeout", "20000",
		"redirectPort", "8443")
}

func (r *Connectors) tlsConnector() *etree.Element {
	in := serverIndent

	hostConfig := xmlconf.NewElement("SSLHostConfig",
		"ciphers", tlsCiphers,
		"disableSessionTickets", "true",
		"honorCipherOrder", "false",
		"protocols", "+TLSv1.2, +TLSv1.3")
	xmlconf.Append(hostConfig, xmlconf.Tailed{
		Node: xmlconf.NewElement("Certificate",
			"certificateFile", r.certificateFile(),
			"certificateKeyFile", r.certificateKeyFile()),
		Tail: in.Line(2),
	})

	c := xmlconf.NewElement("Connector",
		"port", "8443",
		"SSLEnabled", "true",
		"scheme", "https",
		"secure", "true")
	xmlconf.Append(c,
		xmlconf.Tailed{Node: hostConfig, Tail: in.Line(4)},
		xmlconf.Tailed{Node: xmlconf.NewElement("UpgradeProtocol", "className", http2Protocol), Tail: in.Line(2)},
	)
	return c
}

func (r *Connectors) ajpConnector() *etree.Element {
	return xmlconf.NewElement("Connector",
		"protocol", "AJP/1.3",
		"address", "127.0.0.1",
		"port", "8009",
		"secretRequired", "false",
		"redirectPort", "8443",
		"tomcatAuthentication", "false",
		"allowedRequestAttributesPattern", ".*")
}

func jndiRealmElement() *etree.Element {
	return xmlconf.NewElement("Realm",
		"className", jndiRealm,
		"connectionURL", "ldaps://ldap.ent.med.umich.edu:636",
		"userBase", "ou=people,dc=med,dc=umich,dc=edu",
		"userSearch", "(uid={0})",
		"userRoleName", "memberOf",
		"roleBase", "ou=groups,dc=med,dc=umich,dc=edu",
		"roleName", "cn",
		"roleSearch", "(member={0})")
}

// Validate implements xmlconf.Rewriter.
func (r *Connectors) Validate(serialized []byte) ([]string, error) {
	return xmlconf.RequireMarkers(serialized,
		`port="8080"`,
		`port="8443"`,
		r.certificateFile(),
		`protocol="AJP/1.3"`,
		`className="`+jndiRealm+`"`,
		`algorithm="PBKDF2WithHmacSHA512"`,
		`autoDeploy="false"`,
		`rotatable="false"`,
		`requestAttributesEnabled="true"`,
	), nil
}
