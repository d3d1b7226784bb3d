package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportKey places an export file under exports/<date>/<name>.csv, the
// date being the UTC day the export finished.
func BuildExportKey(name string, finishedAt time.Time) (string, error) {
	if err := validatePathComponent(name, "export name"); err != nil {
		return "", err
	}
	ts := finishedAt.UTC()
	return path.Join(
		"exports",
		fmt.Sprintf("%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		name+".csv",
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
