// utils/charts.go
package utils

import (
	"path/filepath"
	"strings"
)

// NormalizeChartName converts a chart cell or archive name ("us4ny1by",
// "US4NY1BY.zip") to the upper-case archive name NOAA serves ("US4NY1BY.zip").
func NormalizeChartName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		name = name[:len(name)-len(".zip")]
	}
	return strings.ToUpper(name) + ".zip"
}

// CellName strips the archive extension: "US4NY1BY.zip" -> "US4NY1BY".
func CellName(archive string) string {
	base := filepath.Base(NormalizeChartName(archive))
	return strings.TrimSuffix(base, ".zip")
}

// NormalizeChartNames normalizes a list, dropping blanks and repeats while
// keeping the configured order.
func NormalizeChartNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		norm := NormalizeChartName(n)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}
