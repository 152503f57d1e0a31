package constants_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/michr/ops-toolkit/internal/constants"
	"github.com/stretchr/testify/assert"
)

func TestGetDefaultConfigPath(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		baseDir func() (string, error)

		want string
	}{
		"Base dir is joined with app folder": {
			baseDir: func() (string, error) { return "abc/def", nil },
			want:    filepath.Join("abc/def", constants.DefaultAppFolder),
		},
		"Base dir error falls back to app folder": {
			baseDir: func() (string, error) { return "abc", errors.New("error") },
			want:    constants.DefaultAppFolder,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := constants.GetDefaultConfigPath(constants.WithBaseDir(tc.baseDir))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExpandHome(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := map[string]struct {
		path string
		want string
	}{
		"Tilde prefix is expanded":   {path: "~/.ssh/id_rsa", want: filepath.Join(home, ".ssh/id_rsa")},
		"Absolute path is unchanged": {path: "/etc/ssh", want: "/etc/ssh"},
		"Bare tilde is unchanged":    {path: "~", want: "~"},
		"Empty path is unchanged":    {path: "", want: ""},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, constants.ExpandHome(tc.path))
		})
	}
}
