package commands_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/michr/ops-toolkit/cmd/activity-export/commands"
	"github.com/michr/ops-toolkit/internal/constants"
	"github.com/michr/ops-toolkit/internal/export/database"
	"github.com/michr/ops-toolkit/internal/export/models"
	"github.com/michr/ops-toolkit/internal/export/query"
	"github.com/michr/ops-toolkit/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dotenv = `DB_USERNAME=reader
DB_PASSWORD=secret
DB_HOST=db.example.com
DB_PORT=5432
DB_SERVICE_NAME=ORCL
BACKUP_SCHEMA=backup_2024
`

func TestRun(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args       []string
		rows       []map[string]any
		streamErr  error
		connectErr error
		noQueries  bool
		toFile     bool

		wantOutput    string
		wantParams    map[string]any
		wantFilter    bool
		wantErr       bool
		wantNoConnect bool
	}{
		"Exports activity with source locations": {
			rows: []map[string]any{
				{"source_address": "8.8.8.8", "data": "x"},
				{"source_address": "10.0.0.1", "data": "y"},
			},
			wantOutput: "SOURCE_ADDRESS,DATA,CITY,REGION,COUNTRY,POSTAL,ORG\n" +
				"8.8.8.8,x,Mountain View,California,United States,94043,Google LLC\n" +
				"10.0.0.1,y,Unknown,Unknown,Unknown,Unknown,Unknown\n",
			wantParams: map[string]any{},
		},
		"Study identifier filters the query": {
			args:       []string{"42"},
			rows:       []map[string]any{{"source_address": "8.8.8.8"}},
			wantOutput: "SOURCE_ADDRESS,CITY,REGION,COUNTRY,POSTAL,ORG\n8.8.8.8,Mountain View,California,United States,94043,Google LLC\n",
			wantParams: map[string]any{query.StudyParam: 42},
			wantFilter: true,
		},
		"Activity targets locate interest and activation addresses": {
			args: []string{"--targets", "activity"},
			rows: []map[string]any{
				{"interest_source_address": "8.8.8.8", "activation_source_address": ""},
			},
			wantOutput: "INTEREST_SOURCE_ADDRESS,ACTIVATION_SOURCE_ADDRESS," +
				"INTEREST_CITY,INTEREST_REGION,INTEREST_COUNTRY,INTEREST_POSTAL,INTEREST_ORG," +
				"ACTIVATION_CITY,ACTIVATION_REGION,ACTIVATION_COUNTRY,ACTIVATION_POSTAL,ACTIVATION_ORG\n" +
				"8.8.8.8,," +
				"Mountain View,California,United States,94043,Google LLC," +
				"Mountain View,California,United States,94043,Google LLC\n",
			wantParams: map[string]any{},
		},
		"Output file receives the export": {
			toFile:     true,
			rows:       []map[string]any{{"data": "x"}},
			wantOutput: "DATA,CITY,REGION,COUNTRY,POSTAL,ORG\nx,Unknown,Unknown,Unknown,Unknown,Unknown\n",
			wantParams: map[string]any{},
		},
		"Empty result writes nothing": {
			wantParams: map[string]any{},
		},

		// Error cases
		"Unknown targets errors": {
			args:          []string{"--targets", "nowhere"},
			wantErr:       true,
			wantNoConnect: true,
		},
		"Missing query files errors": {
			noQueries:     true,
			wantErr:       true,
			wantNoConnect: true,
		},
		"Connection error is returned": {
			connectErr: &database.ConnectionError{Msg: "database connection failed", Err: errors.New("error requested by test")},
			wantErr:    true,
		},
		"Stream error leaves no output file": {
			toFile:    true,
			rows:      []map[string]any{{"data": "x"}},
			streamErr: &database.QueryError{Err: errors.New("error requested by test")},
			wantErr:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			queriesDir := filepath.Join(dir, "queries")
			if !tc.noQueries {
				writeQueries(t, queriesDir)
			}
			srv := newLookupServer(t)

			db := &fakeDB{rows: tc.rows, err: tc.streamErr}
			var gotCreds *database.Credentials
			a, err := commands.New(commands.WithConnect(func(_ context.Context, creds database.Credentials) (commands.RowSource, error) {
				gotCreds = &creds
				if tc.connectErr != nil {
					return nil, tc.connectErr
				}
				return db, nil
			}))
			require.NoError(t, err, "Setup: New should not return an error")

			envFile := writeFile(t, dir, "test.env", dotenv)
			conf := fmt.Sprintf("dotenv: [%s]\ngeolocation:\n  url: %s\n  cooldown: 0s\n", envFile, srv.URL)
			args := append([]string{"--config", writeFile(t, dir, "conf.yaml", conf), "--queries-dir", queriesDir}, tc.args...)
			output := filepath.Join(dir, "out", "activity.csv")
			if tc.toFile {
				require.NoError(t, os.MkdirAll(filepath.Dir(output), 0700), "Setup: failed to create output dir")
				args = append(args, "--output", output)
			}
			a.SetArgs(args...)
			var stdout bytes.Buffer
			a.SetOutput(&stdout)

			err = a.Run()
			if tc.wantNoConnect {
				assert.Nil(t, gotCreds, "Database should not be contacted")
			}
			if tc.wantErr {
				require.Error(t, err, "Run should return an error")
				require.False(t, a.UsageError(), "Runtime errors are not usage errors")
				if tc.toFile {
					entries, err := os.ReadDir(filepath.Dir(output))
					require.NoError(t, err, "Setup: failed to read output dir")
					assert.Empty(t, entries, "No file should be left behind on error")
				}
				return
			}
			require.NoError(t, err, "Run should not return an error")

			require.NotNil(t, gotCreds, "Database should be contacted")
			assert.Equal(t, database.Credentials{Username: "reader", Password: "secret", DSN: "db.example.com:5432/ORCL"}, *gotCreds)
			assert.True(t, db.closed, "Database should be closed")
			assert.Equal(t, tc.wantParams, db.params, "Query parameters should match")
			assert.Contains(t, db.sql, "FROM backup_2024.activity", "Query should use the backup schema")
			assert.Equal(t, tc.wantFilter, strings.Contains(db.sql, "AND v.study_id = :"+query.StudyParam), "Study filter presence should match")

			got := stdout.String()
			if tc.toFile {
				assert.Empty(t, got, "Nothing should be written to stdout with an output file")
				data, err := os.ReadFile(output)
				require.NoError(t, err, "Output file should exist")
				got = string(data)
			}
			assert.Equal(t, tc.wantOutput, got, "Run should write the expected CSV")
		})
	}
}

func TestStudyIDUsageError(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args []string
	}{
		"Non integer study identifier": {args: []string{"abc"}},
		"Too many arguments":           {args: []string{"1", "2"}},
		"Unknown flag":                 {args: []string{"--doesnotexist"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			connected := false
			a, err := commands.New(commands.WithConnect(func(context.Context, database.Credentials) (commands.RowSource, error) {
				connected = true
				return &fakeDB{}, nil
			}))
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(tc.args...)

			err = a.Run()
			require.Error(t, err, "Run should return an error")
			require.True(t, a.UsageError(), "Usage error is reported as such")
			require.False(t, connected, "Database should not be contacted")
		})
	}
}

func TestConfigArg(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := writeFile(t, dir, "conf.yaml", "Verbosity: 2\ntargets: activity\nqueries_dir: /srv/queries\n")

	a, err := commands.New(commands.WithConnect(func(context.Context, database.Credentials) (commands.RowSource, error) {
		return nil, errors.New("error requested by test")
	}))
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("--config", configPath, "--queries-dir", filepath.Join(dir, "missing"))

	// Fails on the missing queries once the configuration is loaded.
	require.Error(t, a.Run(), "Run should return an error")
	require.Equal(t, 2, a.Config().Verbosity)
	require.Equal(t, "activity", a.Config().Targets)
	require.Equal(t, filepath.Join(dir, "missing"), a.Config().QueriesDir, "Flags should take precedence over the configuration file")
	require.Equal(t, constants.DefaultGeolocationURL, a.Config().Geolocation.URL, "Unset values should keep their default")
}

func TestBadConfigReturnsError(t *testing.T) {
	t.Parallel()

	a, err := commands.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("--config", "/does/not/exist.yaml")

	err = a.Run()
	require.Error(t, err, "Run should return an error on config file")
}

func TestFlags(t *testing.T) {
	t.Parallel()

	a, err := commands.New()
	require.NoError(t, err, "Setup: New should not return an error")
	cmd := a.RootCmd()

	tests := map[string]testutils.CmdTestCase{
		"Verbose flag":     {Name: "verbose", Short: "v", PersistentFlag: true, BaseCmd: &cmd},
		"Config flag":      {Name: "config", PersistentFlag: true, BaseCmd: &cmd},
		"Queries dir flag": {Name: "queries-dir", Dirname: true, BaseCmd: &cmd},
		"Output flag":      {Name: "output", Short: "o", BaseCmd: &cmd},
		"Targets flag":     {Name: "targets", BaseCmd: &cmd},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			testutils.FlagTestHelper(t, tc)
		})
	}
}

func TestRootCmd(t *testing.T) {
	t.Parallel()

	a, err := commands.New()
	require.NoError(t, err)

	cmd := a.RootCmd()
	assert.Equal(t, constants.ExportCmdName, cmd.Name())
}

type fakeDB struct {
	rows []map[string]any
	err  error

	sql    string
	params map[string]any
	closed bool
}

func (db *fakeDB) StreamRows(_ context.Context, sql string, params map[string]any) iter.Seq2[models.Row, error] {
	db.sql = sql
	db.params = params
	return func(yield func(models.Row, error) bool) {
		for _, r := range db.rows {
			row := models.NewRow()
			for _, c := range sortedKeys(r) {
				row.Set(c, r[c])
			}
			if !yield(row, nil) {
				return
			}
		}
		if db.err != nil {
			yield(models.Row{}, db.err)
		}
	}
}

func (db *fakeDB) Close() error {
	db.closed = true
	return nil
}

// sortedKeys orders address columns first, the way the test queries select them.
func sortedKeys(r map[string]any) []string {
	var keys []string
	for _, k := range []string{"interest_source_address", "activation_source_address", "source_address", "data"} {
		if _, ok := r[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func newLookupServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/8.8.8.8/json/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"city":"Mountain View","region":"California","country_name":"United States","postal":"94043","org":"Google LLC"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeQueries(t *testing.T, dir string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0700), "Setup: failed to create queries dir")
	writeFile(t, dir, query.VolunteerIPFile, "SELECT v.study_id, v.ip FROM {backup_schema}.volunteer v")
	writeFile(t, dir, query.ActivationTimeFile, "SELECT u.id, u.activated FROM {backup_schema}.users u")
	writeFile(t, dir, query.ActivityFile, `suspicious_activity AS (
    SELECT a.source_address, a.data
    FROM {backup_schema}.activity a JOIN v_study_volunteer_ip v ON v.ip = a.source_address
    WHERE 1 = 1
    -- APPEND STUDY_ID_FILTER_HERE
)
SELECT * FROM suspicious_activity ORDER BY data`)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600), "Setup: failed to write %s", name)
	return p
}
