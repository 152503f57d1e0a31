package tomcat_test

import (
	"testing"

	"github.com/michr/ops-toolkit/internal/tomcat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLayoutPaths(t *testing.T) {
	t.Parallel()

	l := tomcat.DefaultLayout()
	require.NoError(t, l.Validate(), "Default layout should be valid")

	tests := map[string]struct {
		got  string
		want string
	}{
		"VersionDir":        {got: l.VersionDir(), want: "/app/apps/rhel8/apache-tomcat/11.0.7"},
		"PreviousDir":       {got: l.PreviousDir(), want: "/app/apps/rhel8/apache-tomcat/11.0.5"},
		"StagingDir":        {got: l.StagingDir(), want: "/app/apps/rhel8/apache-tomcat/apache-tomcat-11.0.7"},
		"ArchiveFile":       {got: l.ArchiveFile(), want: "/app/apps/rhel8/apache-tomcat/apache-tomcat-11.0.7/apache-tomcat.tar.gz"},
		"ExtractedDir":      {got: l.ExtractedDir(), want: "/app/apps/rhel8/apache-tomcat/apache-tomcat-11.0.7/apache-tomcat-11.0.7"},
		"DownloadURL":       {got: l.DownloadURL(), want: "https://dlcdn.apache.org/tomcat/tomcat-11/v11.0.7/bin/apache-tomcat-11.0.7.tar.gz"},
		"ServerXML":         {got: l.ServerXML(), want: "/app/apps/rhel8/apache-tomcat/11.0.7/conf/server.xml"},
		"ContextXML":        {got: l.ContextXML(), want: "/app/apps/rhel8/apache-tomcat/11.0.7/conf/context.xml"},
		"ManagerWebXML":     {got: l.ManagerWebXML(), want: "/app/apps/rhel8/apache-tomcat/11.0.7/webapps/manager/WEB-INF/web.xml"},
		"HostManagerWebXML": {got: l.HostManagerWebXML(), want: "/app/apps/rhel8/apache-tomcat/11.0.7/webapps/host-manager/WEB-INF/web.xml"},
		"CurrentLink":       {got: l.CurrentLink(), want: "/app/apps/rhel8/apache-tomcat/tomcat"},
		"LogsLink":          {got: l.LogsLink(), want: "/app/apps/rhel8/apache-tomcat/11.0.7/logs"},
		"PropertiesFile":    {got: l.PropertiesFile(), want: "/app/apps/rhel8/apache-tomcat/tomcat/conf/Catalina/localhost/backend.properties"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, tc.got)
		})
	}

	assert.Equal(t, []string{"ojdbc17.jar", "oraclepki.jar", "ucp17.jar"}, l.CarryOverLibs())
}

func TestLayoutValidate(t *testing.T) {
	t.Parallel()

	l := tomcat.DefaultLayout()
	l.Owner = ""
	require.Error(t, l.Validate(), "Validate should reject an empty field")
	assert.Contains(t, l.Validate().Error(), "owner")

	l = tomcat.DefaultLayout()
	l.Version = "12.0.1"
	assert.Equal(t, "https://dlcdn.apache.org/tomcat/tomcat-12/v12.0.1/bin/apache-tomcat-12.0.1.tar.gz", l.DownloadURL(),
		"Download URL should follow the major version")
}
