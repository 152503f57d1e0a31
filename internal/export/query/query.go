// Package query assembles the suspicious activity query from its SQL fragments.
package query

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/ubuntu/decorate"
)

const (
	// StudyParam is the named parameter of the study filter.
	StudyParam = "study_id"

	studyFilter  = "AND v.study_id = :" + StudyParam
	filterMarker = "-- APPEND STUDY_ID_FILTER_HERE"

	schemaPlaceholder = "{backup_schema}"
)

// Fragment files, in the order they are assembled.
const (
	VolunteerIPFile    = "v_study_volunteer_ip.sql"
	ActivationTimeFile = "v_user_activation_time.sql"
	ActivityFile       = "suspicious_activity_query.sql"
)

var orderBy = regexp.MustCompile(`(?i)order\s+by`)

// Builder reads fragments from a directory and renders them for a backup schema.
type Builder struct {
	fragments fs.FS
	schema    string
}

// NewBuilder returns a Builder reading fragments from fsys.
func NewBuilder(fsys fs.FS, schema string) Builder {
	return Builder{fragments: fsys, schema: schema}
}

// Build returns the full query. The two view fragments become common table
// expressions the activity fragment selects from. With studyFilter, the
// result only keeps the rows of the study bound to StudyParam.
func (b Builder) Build(studyFilter bool) (q string, err error) {
	defer decorate.OnError(&err, "could not build query")

	volunteers, err := b.load(VolunteerIPFile)
	if err != nil {
		return "", err
	}
	activations, err := b.load(ActivationTimeFile)
	if err != nil {
		return "", err
	}
	activity, err := b.load(ActivityFile)
	if err != nil {
		return "", err
	}

	// The activity fragment may declare more expressions and must continue the list.
	activity = strings.TrimLeft(activity, " \t\r\n")
	if !strings.HasPrefix(activity, ",") {
		activity = "," + activity
	}

	q = fmt.Sprintf(`
WITH
v_study_volunteer_ip AS (
    %s
),
v_user_activation_time AS (
    %s
)
%s
`, volunteers, activations, activity)

	if studyFilter {
		q = addStudyFilter(q)
	}
	return q, nil
}

func (b Builder) load(name string) (string, error) {
	data, err := fs.ReadFile(b.fragments, name)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), schemaPlaceholder, b.schema), nil
}

// addStudyFilter puts the filter at the marker, else before the last ORDER BY,
// else at the end.
func addStudyFilter(q string) string {
	if strings.Contains(q, filterMarker) {
		return strings.ReplaceAll(q, filterMarker, studyFilter)
	}
	if all := orderBy.FindAllStringIndex(q, -1); len(all) > 0 {
		i := all[len(all)-1][0]
		return q[:i] + studyFilter + "\n" + q[i:]
	}
	return q + "\n" + studyFilter + "\n"
}
