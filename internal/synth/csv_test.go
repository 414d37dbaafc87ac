package synth

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestCSVRoundTrip(t *testing.T) {
	ds, err := Generate(150, 9, DefaultDistribution())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	path := filepath.Join(t.TempDir(), "dataset.csv")
	if err := ExportCSV(path, ds); err != nil {
		t.Fatalf("export: %v", err)
	}
	back, err := ImportCSV(path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(back) != ds.Len() {
		t.Fatalf("expected %d samples, got %d", ds.Len(), len(back))
	}
	for i := range back {
		if !reflect.DeepEqual(back[i], ds.Samples[i]) {
			t.Fatalf("sample %d changed across round trip:\n  out: %+v\n  in:  %+v", i, ds.Samples[i], back[i])
		}
	}
}

func TestReadCSVRejectsHeaderDrift(t *testing.T) {
	var buf bytes.Buffer
	ds, err := Generate(3, 1, DefaultDistribution())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := WriteCSV(&buf, ds); err != nil {
		t.Fatalf("write: %v", err)
	}
	mangled := strings.Replace(buf.String(), "credit_utilization", "utilization", 1)
	if _, err := ReadCSV(strings.NewReader(mangled)); err == nil {
		t.Fatal("expected header mismatch error")
	}
}

func TestReadCSVRejectsBadCell(t *testing.T) {
	input := strings.Join([]string{
		strings.Join(csvHeader, ","),
		"region_north,not-a-number,40,1,5,0,2,0,0,0",
	}, "\n")
	if _, err := ReadCSV(strings.NewReader(input)); err == nil {
		t.Fatal("expected parse error for non-numeric score")
	}
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}
