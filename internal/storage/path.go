package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportKey lays out structure exports by database and UTC day:
// exports/<database>/date=YYYY-MM-DD/structure-<unix ms>.<extension>.
func BuildExportKey(database, extension string, exportedAt time.Time) (string, error) {
	if err := validatePathComponent(database, "database"); err != nil {
		return "", err
	}
	extension = strings.TrimPrefix(strings.TrimSpace(extension), ".")
	if err := validatePathComponent(extension, "extension"); err != nil {
		return "", err
	}

	ts := exportedAt.UTC()
	return path.Join(
		"exports",
		database,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("structure-%d.%s", ts.UnixMilli(), extension),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
