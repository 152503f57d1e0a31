// Package tomcat describes Tomcat releases and the servers they are rolled out to.
package tomcat

import (
	"fmt"
	"path"
)

// Layout is the on-disk arrangement of Tomcat releases on an application server.
type Layout struct {
	InstallRoot     string `mapstructure:"install_root"`
	Version         string `mapstructure:"version"`
	PreviousVersion string `mapstructure:"previous_version"`
	JDBCMajor       string `mapstructure:"jdbc_major"`
	Owner           string `mapstructure:"owner"`
	LogsDir         string `mapstructure:"logs_dir"`
}

// DefaultLayout returns the layout of the 11.0.5 to 11.0.7 upgrade.
func DefaultLayout() Layout {
	return Layout{
		InstallRoot:     "/app/apps/rhel8/apache-tomcat",
		Version:         "11.0.7",
		PreviousVersion: "11.0.5",
		JDBCMajor:       "17",
		Owner:           "tomcat:michr-developers",
		LogsDir:         "/app/log/tomcat/",
	}
}

// Validate checks that every field is set.
func (l Layout) Validate() error {
	fields := []struct{ name, value string }{
		{"install_root", l.InstallRoot},
		{"version", l.Version},
		{"previous_version", l.PreviousVersion},
		{"jdbc_major", l.JDBCMajor},
		{"owner", l.Owner},
		{"logs_dir", l.LogsDir},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("release layout: %s must be set", f.name)
		}
	}
	return nil
}

// VersionDir is the installation directory of the new release.
func (l Layout) VersionDir() string {
	return path.Join(l.InstallRoot, l.Version)
}

// PreviousDir is the installation directory of the release being replaced.
func (l Layout) PreviousDir() string {
	return path.Join(l.InstallRoot, l.PreviousVersion)
}

// StagingDir is where the release archive is downloaded and extracted.
func (l Layout) StagingDir() string {
	return path.Join(l.InstallRoot, "apache-tomcat-"+l.Version)
}

// ArchiveFile is the downloaded release archive.
func (l Layout) ArchiveFile() string {
	return path.Join(l.StagingDir(), "apache-tomcat.tar.gz")
}

// ExtractedDir is the top directory of the extracted archive.
func (l Layout) ExtractedDir() string {
	return path.Join(l.StagingDir(), "apache-tomcat-"+l.Version)
}

// DownloadURL is the official location of the release archive.
func (l Layout) DownloadURL() string {
	return fmt.Sprintf("https://dlcdn.apache.org/tomcat/tomcat-%s/v%s/bin/apache-tomcat-%s.tar.gz",
		l.major(), l.Version, l.Version)
}

func (l Layout) major() string {
	for i, c := range l.Version {
		if c == '.' {
			return l.Version[:i]
		}
	}
	return l.Version
}

// ServerXML is the connector and realm configuration of the new release.
func (l Layout) ServerXML() string {
	return path.Join(l.VersionDir(), "conf", "server.xml")
}

// ContextXML is the datasource configuration of the new release.
func (l Layout) ContextXML() string {
	return path.Join(l.VersionDir(), "conf", "context.xml")
}

// ManagerWebXML is the access control descriptor of the manager application.
func (l Layout) ManagerWebXML() string {
	return path.Join(l.VersionDir(), "webapps", "manager", "WEB-INF", "web.xml")
}

// HostManagerWebXML is the access control descriptor of the host-manager application.
func (l Layout) HostManagerWebXML() string {
	return path.Join(l.VersionDir(), "webapps", "host-manager", "WEB-INF", "web.xml")
}

// CurrentLink points at the running release.
func (l Layout) CurrentLink() string {
	return path.Join(l.InstallRoot, "tomcat")
}

// LogsLink replaces the logs directory of the new release.
func (l Layout) LogsLink() string {
	return path.Join(l.VersionDir(), "logs")
}

// PropertiesFile is the backend properties file, reached through the current link.
func (l Layout) PropertiesFile() string {
	return path.Join(l.CurrentLink(), "conf", "Catalina", "localhost", "backend.properties")
}

// CarryOverLibs are the driver jars copied from the previous release.
func (l Layout) CarryOverLibs() []string {
	return []string{
		"ojdbc" + l.JDBCMajor + ".jar",
		"oraclepki.jar",
		"ucp" + l.JDBCMajor + ".jar",
	}
}
