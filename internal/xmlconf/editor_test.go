package xmlconf_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/michr/ops-toolkit/internal/remote/testutils"
	"github.com/michr/ops-toolkit/internal/xmlconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serverXML  = "/app/apps/rhel8/apache-tomcat/11.0.7/conf/server.xml"
	originalSX = "<Server>\n  <Service name=\"Catalina\">\n    <Connector port=\"8080\"/>\n  </Service>\n</Server>"
)

// portRewriter sets the port of every connector and requires the given markers.
type portRewriter struct {
	port       string
	markers    []string
	rewriteErr error
}

func (r portRewriter) Rewrite(doc *xmlconf.Document) error {
	if r.rewriteErr != nil {
		return r.rewriteErr
	}
	for _, c := range xmlconf.Descendants(doc.Root(), "", "Connector") {
		c.CreateAttr("port", r.port)
	}
	return nil
}

func (r portRewriter) Validate(serialized []byte) ([]string, error) {
	return xmlconf.RequireMarkers(serialized, r.markers...), nil
}

func TestApply(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		rw        portRewriter
		fetchErr  error
		uploadErr error
		noFile    bool

		wantContent  string
		wantErr      bool
		wantValidErr []string
	}{
		"Valid rewrite replaces the remote file": {
			rw:           portRewriter{port: "8443", markers: []string{`port="8443"`}},
			wantContent:  "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<Server>\n  <Service name=\"Catalina\">\n    <Connector port=\"8443\"/>\n  </Service>\n</Server>",
		},

		// Error cases
		"Missing marker leaves the remote file untouched": {
			rw:           portRewriter{port: "9999", markers: []string{`port="8443"`}},
			wantErr:      true,
			wantValidErr: []string{`port="8443"`},
		},
		"Rewrite failure leaves the remote file untouched": {
			rw:      portRewriter{rewriteErr: errors.New("no Service element")},
			wantErr: true,
		},
		"Fetch failure leaves the remote file untouched": {
			rw:       portRewriter{port: "8443"},
			fetchErr: errors.New("sftp closed"),
			wantErr:  true,
		},
		"Upload failure leaves the remote file untouched": {
			rw:        portRewriter{port: "8443"},
			uploadErr: errors.New("disk full"),
			wantErr:   true,
		},
		"Missing remote file errors before any change": {
			rw:      portRewriter{port: "8443"},
			noFile:  true,
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tmp := t.TempDir()
			h := testutils.NewFakeHost()
			if !tc.noFile {
				h.SetFile(serverXML, originalSX)
			}
			h.FetchErr = tc.fetchErr
			h.UploadErr = tc.uploadErr

			e := xmlconf.NewEditor(h, "tomcat:michr-developers",
				xmlconf.WithTempDir(tmp),
				xmlconf.WithIDGenerator(func() string { return "0000" }))

			err := e.Apply(context.Background(), serverXML, tc.rw)

			entries, rdErr := os.ReadDir(tmp)
			require.NoError(t, rdErr, "ReadDir should not return an error")
			assert.Empty(t, entries, "Local copies should always be removed")

			_, hasBackup := h.File(serverXML + ".bak")
			assert.False(t, hasBackup, "Remote backup should always be removed")

			if tc.wantErr {
				require.Error(t, err, "Apply should return an error")
				got, ok := h.File(serverXML)
				if !tc.noFile {
					assert.True(t, ok, "Remote file should still exist")
					assert.Equal(t, originalSX, got, "Remote file should be left unmodified")
				}
				assert.NotContains(t, h.Commands(), "sudo mv /tmp/server.xml.0000 "+serverXML, "Nothing should be moved over the original")

				if tc.wantValidErr != nil {
					var vErr *xmlconf.ValidationError
					require.ErrorAs(t, err, &vErr, "Apply should return a ValidationError")
					assert.Equal(t, serverXML, vErr.File)
					assert.Equal(t, tc.wantValidErr, vErr.Missing)
				}
				return
			}
			require.NoError(t, err, "Apply should not return an error")

			got, _ := h.File(serverXML)
			assert.Equal(t, tc.wantContent, got, "Remote file should hold the rewritten content")
			assert.Equal(t, []string{
				"sudo cp " + serverXML + " " + serverXML + ".bak",
				"sudo mv /tmp/server.xml.0000 " + serverXML,
				"sudo chown tomcat:michr-developers " + serverXML,
				"sudo rm -f " + serverXML + ".bak",
			}, h.Commands(), "Apply should run the commands in order")
			_, staged := h.File("/tmp/server.xml.0000")
			assert.False(t, staged, "Staged file should have been moved")
		})
	}
}
