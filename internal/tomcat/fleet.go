package tomcat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ubuntu/decorate"
	"gopkg.in/yaml.v3"
)

// Family groups servers sharing an application and database setup.
type Family int

const (
	// YHR servers run the YourHealthResearch backend.
	YHR Family = iota
	// Nabu servers run the Nabu backend.
	Nabu
)

func (f Family) String() string {
	if f == Nabu {
		return "nabu"
	}
	return "yhr"
}

// DefaultCertHost is used for servers without a certificate host.
const DefaultCertHost = "michr-ap-ds15a"

// Datasource is the JNDI database resource of a server.
type Datasource struct {
	ResourceName string
	URL          string
}

// ServerTarget is one application server of a rollout.
type ServerTarget struct {
	Name     string `toml:"name" yaml:"name"`
	CertHost string `toml:"cert_host" yaml:"cert_host"`
	TNSName  string `toml:"tns_name" yaml:"tns_name"`
}

// Family derives the server family from its name.
func (s ServerTarget) Family() Family {
	if strings.HasPrefix(s.Name, "nabu-") {
		return Nabu
	}
	return YHR
}

// CertificateHost returns the host name the TLS certificate files are named after.
func (s ServerTarget) CertificateHost() string {
	if s.CertHost == "" {
		return DefaultCertHost
	}
	return s.CertHost
}

// Datasource resolves the database resource of the server.
func (s ServerTarget) Datasource() (Datasource, error) {
	if s.Family() == Nabu {
		if strings.Contains(s.Name, "test") {
			return Datasource{
				ResourceName: "jdbc/nabuTestDataSource",
				URL:          "jdbc:oracle:thin:@//MRSD.MCIT.MED.UMICH.EDU:1521/MRSD.WORLD",
			}, nil
		}
		return Datasource{
			ResourceName: "jdbc/nabuDataSource",
			URL:          "jdbc:oracle:thin:@//MHRP.MCIT.MED.UMICH.EDU:1521/MHRP.WORLD",
		}, nil
	}

	if s.TNSName == "" {
		return Datasource{}, fmt.Errorf("no TNS name mapping found for server %s", s.Name)
	}
	return Datasource{
		ResourceName: "jdbc/yhrDataSource",
		URL:          fmt.Sprintf("jdbc:oracle:thin:@%s?TNS_ADMIN=/app/db/network/admin", s.TNSName),
	}, nil
}

// WarFile is the backend application archive deployed on the server.
func (s ServerTarget) WarFile() string {
	if s.Family() == Nabu {
		return "nabu-backend.war"
	}
	return "backend.war"
}

// catalog holds the known servers, test and production.
var catalog = map[string]ServerTarget{
	"nabu-test":       {Name: "nabu-test", CertHost: "michr-ap-ds20a"},
	"yhr-umich-test":  {Name: "yhr-umich-test", CertHost: "michr-ap-ds15a", TNSName: "YHR_UMICH_TEST"},
	"yhr-itm-test":    {Name: "yhr-itm-test", CertHost: "michr-ap-ds16a", TNSName: "YHR_ITM_TEST"},
	"yhr-umiami-test": {Name: "yhr-umiami-test", CertHost: "michr-ap-ds17a", TNSName: "YHR_UMIAMI_TEST"},
	"yhr-uic-test":    {Name: "yhr-uic-test", CertHost: "michr-ap-ds18a", TNSName: "YHR_UIC_TEST"},
	"yhr-demo-test":   {Name: "yhr-demo-test", CertHost: "michr-ap-ds19a", TNSName: "YHR_DEMO_TEST"},
	"nabu-prod":       {Name: "nabu-prod", CertHost: "michr-ap-ps13a"},
	"yhr-umich-prod":  {Name: "yhr-umich-prod", CertHost: "michr-ap-ps14a", TNSName: "YHR_UMICH"},
	"yhr-itm-prod":    {Name: "yhr-itm-prod", CertHost: "michr-ap-ps15a", TNSName: "YHR_ITM"},
	"yhr-umiami-prod": {Name: "yhr-umiami-prod", CertHost: "michr-ap-ps16a", TNSName: "YHR_UMIAMI"},
	"yhr-uic-prod":    {Name: "yhr-uic-prod", CertHost: "michr-ap-ps17a", TNSName: "YHR_UIC"},
	"yhr-demo-prod":   {Name: "yhr-demo-prod", CertHost: "michr-ap-ps18a", TNSName: "YHR_DEMO"},
}

// Fleet is an ordered, immutable list of servers.
type Fleet struct {
	servers []ServerTarget
}

// NewFleet returns a fleet of servers, completing each one from the known
// servers when its certificate host or TNS name is not given.
func NewFleet(servers ...ServerTarget) (Fleet, error) {
	if len(servers) == 0 {
		return Fleet{}, errors.New("fleet has no server")
	}

	seen := make(map[string]bool)
	r := make([]ServerTarget, 0, len(servers))
	for _, s := range servers {
		if s.Name == "" {
			return Fleet{}, errors.New("fleet has a server without a name")
		}
		if seen[s.Name] {
			return Fleet{}, fmt.Errorf("server %s is listed twice", s.Name)
		}
		seen[s.Name] = true

		if known, ok := catalog[s.Name]; ok {
			if s.CertHost == "" {
				s.CertHost = known.CertHost
			}
			if s.TNSName == "" {
				s.TNSName = known.TNSName
			}
		}
		r = append(r, s)
	}
	return Fleet{servers: r}, nil
}

// DefaultFleet returns the test servers.
func DefaultFleet() Fleet {
	names := []string{"nabu-test", "yhr-umich-test", "yhr-itm-test", "yhr-umiami-test", "yhr-uic-test", "yhr-demo-test"}
	servers := make([]ServerTarget, 0, len(names))
	for _, n := range names {
		servers = append(servers, catalog[n])
	}
	return Fleet{servers: servers}
}

type fleetFile struct {
	Servers []ServerTarget `toml:"servers" yaml:"servers"`
}

// LoadFleet reads a fleet from a TOML or YAML file, chosen by extension.
func LoadFleet(path string) (f Fleet, err error) {
	defer decorate.OnError(&err, "could not load fleet from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, err
	}

	var ff fleetFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &ff); err != nil {
			return Fleet{}, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &ff); err != nil {
			return Fleet{}, err
		}
	default:
		return Fleet{}, fmt.Errorf("unsupported fleet file extension %q", ext)
	}

	return NewFleet(ff.Servers...)
}

// Servers returns a copy of the servers, in order.
func (f Fleet) Servers() []ServerTarget {
	return append([]ServerTarget(nil), f.servers...)
}

// Len is the number of servers.
func (f Fleet) Len() int {
	return len(f.servers)
}

// Of returns the servers of one family, in order.
func (f Fleet) Of(family Family) []ServerTarget {
	var r []ServerTarget
	for _, s := range f.servers {
		if s.Family() == family {
			r = append(r, s)
		}
	}
	return r
}
