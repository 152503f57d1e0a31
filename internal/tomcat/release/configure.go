package release

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/michr/ops-toolkit/internal/remote"
	"github.com/michr/ops-toolkit/internal/tomcat"
	"github.com/michr/ops-toolkit/internal/tomcat/rewrite"
	"github.com/michr/ops-toolkit/internal/xmlconf"
	"github.com/ubuntu/decorate"
)

// Provisioner installs and configures a new release on every server of a fleet.
type Provisioner struct {
	run
}

// NewProvisioner returns a Provisioner for fleet.
func NewProvisioner(dialer remote.Dialer, fleet tomcat.Fleet, layout tomcat.Layout, console Console, args ...Option) *Provisioner {
	return &Provisioner{run{
		dialer:  dialer,
		fleet:   fleet,
		layout:  layout,
		console: console,
		opts:    newOptions(args),
	}}
}

// Run asks for confirmation then configures each server in order.
// The first failing server stops the run.
func (p *Provisioner) Run(ctx context.Context) error {
	l := p.layout
	err := p.confirm("TOMCAT CONFIGURATION CONFIRMATION",
		fmt.Sprintf("You are about to configure Apache Tomcat version %s to the following servers:", l.Version),
		[]string{
			fmt.Sprintf("Download tomcat %s", l.Version),
			fmt.Sprintf("Copy %s and war file from %s if available", strings.Join(l.CarryOverLibs(), ", "), l.PreviousVersion),
			fmt.Sprintf("Update %s", l.ServerXML()),
			fmt.Sprintf("Update %s", l.ContextXML()),
			fmt.Sprintf("Update %s", l.ManagerWebXML()),
			fmt.Sprintf("Update %s", l.HostManagerWebXML()),
		},
		"WARNING: This operation is irreversible.")
	if err != nil {
		return err
	}
	p.console.Out.Line("\nConfirmation received. Starting tomcat %s configuration...\n", l.Version)

	var nabu []tomcat.ServerTarget
	defer func() {
		if len(nabu) > 0 {
			p.credentialWarnings(nabu)
		}
	}()

	for _, s := range p.fleet.Servers() {
		if err := p.configure(ctx, s); err != nil {
			p.console.Out.ServerError(s.Name, fmt.Errorf("unexpected error occurred: %w", err))
			return fmt.Errorf("configuration of %s failed: %w", s.Name, err)
		}
		if s.Family() == tomcat.Nabu {
			nabu = append(nabu, s)
		}
	}
	return nil
}

func (p *Provisioner) configure(ctx context.Context, s tomcat.ServerTarget) error {
	out := p.console.Out
	l := p.layout

	out.Banner(fmt.Sprintf("Starting Tomcat %s configuration on %s...", l.Version, s.Name))
	out.Server(s.Name, "Using host %s for certificate", s.CertificateHost())

	// Datasource settings are resolved before any remote change.
	ds, err := rewrite.NewDatasource(s, l)
	if err != nil {
		return err
	}
	if s.Family() == tomcat.Nabu {
		out.Server(s.Name, "Skipping TNS configuration - not required for nabu servers")
	} else {
		out.Server(s.Name, "Using TNS name: %s for database connection", s.TNSName)
	}

	conn, closeConn, err := p.connect(ctx, s.Name)
	if err != nil {
		return err
	}
	defer closeConn()

	if err := p.install(ctx, conn, s.Name); err != nil {
		return err
	}
	if err := p.carryOver(ctx, conn, s); err != nil {
		return err
	}

	editor := xmlconf.NewEditor(conn, l.Owner, p.opts.editorOpts...)
	files := []struct {
		what string
		path string
		rw   xmlconf.Rewriter
	}{
		{"server.xml configurations", l.ServerXML(), rewrite.NewConnectors(s.CertificateHost())},
		{"context.xml configuration", l.ContextXML(), ds},
		{"manager web.xml role configurations", l.ManagerWebXML(), rewrite.NewRoles(rewrite.ManagerRoles)},
		{"host-manager web.xml role configurations", l.HostManagerWebXML(), rewrite.NewRoles(rewrite.HostManagerRoles)},
	}
	for _, f := range files {
		out.Server(s.Name, "Updating %s...", f.what)
		if err := editor.Apply(ctx, f.path, f.rw); err != nil {
			return err
		}
		out.Server(s.Name, "%s updated successfully", f.path)
	}

	out.Server(s.Name, "Configuration for Apache Tomcat %s completed.", l.Version)
	return nil
}

// install downloads the release archive and lays it out in the version directory.
func (p *Provisioner) install(ctx context.Context, exec remote.Executor, server string) (err error) {
	defer decorate.OnError(&err, "could not install release %s", p.layout.Version)

	out := p.console.Out
	l := p.layout
	staging := l.StagingDir()
	sudo := remote.Elevated()

	out.Server(server, "Downloading and configuring necessary files...")
	out.Server(server, "Preparing temp folder %s...", staging)
	state, err := remote.DirState(ctx, exec, staging)
	if err != nil {
		return err
	}
	switch state {
	case remote.Present:
		out.Server(server, "Emptying existing folder %s...", staging)
		if _, err := exec.Run(ctx, fmt.Sprintf("rm -rf %s/*", staging), sudo); err != nil {
			return err
		}
	case remote.Absent:
		out.Server(server, "Creating temp folder %s...", staging)
		if _, err := exec.Run(ctx, "mkdir -p "+staging, sudo); err != nil {
			return err
		}
	}

	out.Server(server, "Downloading Apache Tomcat archive...")
	if _, err := exec.Run(ctx, fmt.Sprintf("wget -O %s %s", l.ArchiveFile(), l.DownloadURL()), sudo); err != nil {
		return err
	}
	kind, err := exec.Run(ctx, "file -b "+l.ArchiveFile())
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(kind), "gzip") {
		return fmt.Errorf("downloaded file is not a valid gzip archive: %s", strings.TrimSpace(kind))
	}

	out.Server(server, "Extracting Apache Tomcat archive...")
	if _, err := exec.Run(ctx, fmt.Sprintf("tar -xzvf %s -C %s", l.ArchiveFile(), staging), sudo); err != nil {
		return err
	}
	if _, err := exec.Run(ctx, "rm -f "+l.ArchiveFile(), sudo); err != nil {
		return err
	}

	vdir := l.VersionDir()
	out.Server(server, "Preparing new folder %s...", vdir)
	state, err = remote.DirState(ctx, exec, vdir)
	if err != nil {
		return err
	}
	if state == remote.Present {
		out.Server(server, "Removing existing folder %s...", vdir)
		if _, err := exec.Run(ctx, "rm -rf "+vdir, sudo); err != nil {
			return err
		}
	}
	out.Server(server, "Creating new folder %s...", vdir)
	if _, err := exec.Run(ctx, "mkdir -p "+vdir, sudo); err != nil {
		return err
	}

	out.Server(server, "Moving extracted files...")
	if _, err := exec.Run(ctx, fmt.Sprintf("mv %s/* %s", l.ExtractedDir(), vdir), sudo); err != nil {
		return err
	}
	out.Server(server, "Deleting %s...", staging)
	if _, err := exec.Run(ctx, "rm -rf "+staging, sudo); err != nil {
		return err
	}
	return nil
}

// carryOver sets the permissions of the new release and copies what the
// previous release had on top of a stock install. Missing artifacts are warnings.
func (p *Provisioner) carryOver(ctx context.Context, exec remote.Executor, s tomcat.ServerTarget) (err error) {
	defer decorate.OnError(&err, "could not prepare release %s", p.layout.Version)

	out := p.console.Out
	l := p.layout
	vdir := l.VersionDir()
	prev := l.PreviousDir()
	sudo := remote.Elevated()

	out.Server(s.Name, "Updating ownership and permissions...")
	for _, cmd := range []string{
		fmt.Sprintf("chown -R %s %s", l.Owner, vdir),
		fmt.Sprintf("chmod -R g+rw %s/conf", vdir),
		fmt.Sprintf("chmod g+x %s/conf", vdir),
	} {
		if _, err := exec.Run(ctx, cmd, sudo); err != nil {
			return err
		}
	}

	out.Server(s.Name, "Copying configuration files from version %s...", l.PreviousVersion)
	if _, err := exec.Run(ctx, fmt.Sprintf("cp -rp %s/conf/Catalina/ %s/conf/", prev, vdir), sudo); err != nil {
		slog.Debug("Catalina configuration not copied", "server", s.Name, "err", err)
		out.ServerWarn(s.Name, "Previous version configuration directory not found, skipping")
	}

	out.Server(s.Name, "Deleting logs folder from new version...")
	if _, err := exec.Run(ctx, fmt.Sprintf("rm -rf %s/logs/", vdir), sudo); err != nil {
		return err
	}

	out.Server(s.Name, "Copying libraries and web applications...")
	for _, lib := range l.CarryOverLibs() {
		if _, err := exec.Run(ctx, fmt.Sprintf("cp -p %s/lib/%s %s/lib/.", prev, lib, vdir), sudo); err != nil {
			slog.Debug("Library not copied", "server", s.Name, "lib", lib, "err", err)
			out.ServerWarn(s.Name, "Library %s not found, skipping", lib)
		}
	}
	war := s.WarFile()
	if _, err := exec.Run(ctx, fmt.Sprintf("cp -p %s/webapps/%s %s/webapps/.", prev, war, vdir), sudo); err != nil {
		slog.Debug("Web application not copied", "server", s.Name, "war", war, "err", err)
		out.ServerWarn(s.Name, "%s not found, skipping", war)
	}
	return nil
}

// credentialWarnings tells the operator which pool credentials must be set by hand.
func (p *Provisioner) credentialWarnings(servers []tomcat.ServerTarget) {
	ctxFile := p.layout.ContextXML()

	lines := []string{
		"",
		"⚠️  MANUAL ACTION REQUIRED:",
		"    For security reasons, you must manually update the following:",
	}
	for i, s := range servers {
		lines = append(lines, fmt.Sprintf("    %d. Go to %s server and add the user/password in %s", i+1, s.Name, ctxFile))
	}
	lines = append(lines,
		"",
		"    Command to edit:",
		"    $ sudo vim "+ctxFile,
		"",
		"    Specifically look for the Resource elements:")
	for _, s := range servers {
		ds, err := s.Datasource()
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("    - %s (on %s)", ds.ResourceName, s.Name))
	}
	lines = append(lines,
		"",
		"    Make sure the user and password attributes are set correctly.")

	p.console.Out.Banner("IMPORTANT WARNINGS", lines...)
	p.console.Out.Rule()
}
