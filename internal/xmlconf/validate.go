package xmlconf

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// ValidationError is returned when rewritten content does not satisfy its checks.
// The remote file is never modified when it is returned.
type ValidationError struct {
	File    string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of %s failed: %s", e.File, strings.Join(e.Missing, "; "))
}

// RequireMarkers returns the markers that do not appear in text, in order.
func RequireMarkers(text []byte, markers ...string) []string {
	var missing []string
	s := string(text)
	for _, m := range markers {
		if !strings.Contains(s, m) {
			missing = append(missing, m)
		}
	}
	return missing
}

// Selector identifies an element by namespace, name and one discriminating attribute.
type Selector struct {
	Space string
	Tag   string
	Attr  string
	Value string
}

func (s Selector) String() string {
	if s.Attr == "" {
		return s.Tag
	}
	return fmt.Sprintf("%s[@%s='%s']", s.Tag, s.Attr, s.Value)
}

// RequireElements re-parses serialized and returns the selectors matching no element.
func RequireElements(serialized []byte, selectors ...Selector) ([]string, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(serialized); err != nil {
		return nil, fmt.Errorf("rewritten content is not well formed: %v", err)
	}
	root := tree.Root()
	if root == nil {
		return nil, fmt.Errorf("rewritten content has no root element")
	}

	var missing []string
	for _, s := range selectors {
		if Matches(root, s.Space, s.Tag) && (s.Attr == "" || root.SelectAttrValue(s.Attr, "\x00") == s.Value) {
			continue
		}
		if First(root, s.Space, s.Tag, s.Attr, s.Value) == nil {
			missing = append(missing, s.String())
		}
	}
	return missing, nil
}
