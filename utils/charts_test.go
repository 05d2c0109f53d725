package utils

import (
	"reflect"
	"testing"
)

func TestNormalizeChartName(t *testing.T) {
	cases := map[string]string{
		"US4NY1BY.zip":  "US4NY1BY.zip",
		"us4ny1by":      "US4NY1BY.zip",
		" US5MA1CD.ZIP": "US5MA1CD.zip",
		"":              "",
	}
	for in, want := range cases {
		if got := NormalizeChartName(in); got != want {
			t.Errorf("NormalizeChartName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCellName(t *testing.T) {
	if got := CellName("us4ri1cb.zip"); got != "US4RI1CB" {
		t.Errorf("CellName = %q", got)
	}
}

func TestNormalizeChartNames(t *testing.T) {
	got := NormalizeChartNames([]string{"US4NY1BY.zip", "", "us4ny1by", "US4RI1CB"})
	want := []string{"US4NY1BY.zip", "US4RI1CB.zip"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
