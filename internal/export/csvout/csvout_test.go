package csvout_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/michr/ops-toolkit/internal/export/csvout"
	"github.com/michr/ops-toolkit/internal/export/models"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := csvout.NewWriter(&out)

	require.NoError(t, w.WriteHeader([]string{"A", "B", "C"}), "WriteHeader should not return an error")
	require.Equal(t, "A,B,C\n", out.String(), "Header should be flushed immediately")

	r := models.NewRow()
	r.Set("B", "with, comma")
	r.Set("A", 1)
	r.Set("EXTRA", "dropped")
	require.NoError(t, w.WriteRow(r), "WriteRow should not return an error")
	require.Equal(t, "A,B,C\n1,\"with, comma\",\n", out.String(), "Row should follow the header order and be flushed immediately")
}

func TestWriterErrors(t *testing.T) {
	t.Parallel()

	w := csvout.NewWriter(&bytes.Buffer{})
	require.Error(t, w.WriteRow(models.NewRow()), "WriteRow before the header should fail")
	require.NoError(t, w.WriteHeader([]string{"A"}), "Setup: WriteHeader should not return an error")
	require.Error(t, w.WriteHeader([]string{"A"}), "Second header should fail")

	w = csvout.NewWriter(failingWriter{})
	require.Error(t, w.WriteHeader([]string{"A"}), "Write failure should be reported")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("error requested by test")
}
