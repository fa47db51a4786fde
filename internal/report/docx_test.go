package report

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"math"
	"strings"
	"testing"
	"time"
)

func readDocumentXML(t *testing.T, docx []byte) string {
	t.Helper()
	reader, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		t.Fatalf("zip reader failed: %v", err)
	}
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			t.Fatalf("open document.xml: %v", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read document.xml: %v", err)
		}
		return string(data)
	}
	t.Fatalf("document.xml missing")
	return ""
}

func TestRenderProducesValidDocx(t *testing.T) {
	docx, err := Render(Progress{
		SubjectName:      "Jane <Doe> & Co",
		SubjectAge:       "34",
		SubjectGender:    "female",
		IntervalWeeks:    "12",
		Recommendation:   "Phototherapy",
		BeforeArea:       200,
		AfterArea:        150,
		ChangePercentage: -25,
		SpeedRate:        -2.08,
		GeneratedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		t.Fatalf("zip reader failed: %v", err)
	}
	required := map[string]bool{"[Content_Types].xml": false, "_rels/.rels": false, "word/document.xml": false}
	for _, file := range reader.File {
		if _, ok := required[file.Name]; ok {
			required[file.Name] = true
		}
	}
	for name, found := range required {
		if !found {
			t.Fatalf("expected docx to contain %s", name)
		}
	}

	documentXML := readDocumentXML(t, docx)
	var doc struct {
		XMLName xml.Name `xml:"document"`
	}
	if err := xml.Unmarshal([]byte(documentXML), &doc); err != nil {
		t.Fatalf("document.xml parse failed: %v", err)
	}
	for _, want := range []string{"Vitiligo Progress Report", "Jane &lt;Doe&gt; &amp; Co", "Phototherapy", "Change in Affected Area: -25.00%", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(documentXML, want) {
			t.Fatalf("document.xml missing %q", want)
		}
	}
}

func TestRenderRequiresName(t *testing.T) {
	if _, err := Render(Progress{SubjectName: "  "}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMeasurements(t *testing.T) {
	tests := []struct {
		name          string
		before, after float64
		weeks         float64
		wantChange    float64
		wantSpeed     float64
	}{
		{name: "shrinking", before: 200, after: 150, weeks: 5, wantChange: -25, wantSpeed: -5},
		{name: "growing", before: 100, after: 150, weeks: 10, wantChange: 50, wantSpeed: 5},
		{name: "zero before", before: 0, after: 150, weeks: 10, wantChange: 0, wantSpeed: 0},
		{name: "zero weeks", before: 100, after: 50, weeks: 0, wantChange: -50, wantSpeed: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := ChangePercentage(tt.before, tt.after); math.Abs(got-tt.wantChange) > 1e-9 {
				t.Fatalf("ChangePercentage = %v, want %v", got, tt.wantChange)
			}
			if got := SpeedRate(tt.before, tt.after, tt.weeks); math.Abs(got-tt.wantSpeed) > 1e-9 {
				t.Fatalf("SpeedRate = %v, want %v", got, tt.wantSpeed)
			}
		})
	}
}

func TestRecommendationBands(t *testing.T) {
	if Recommendation(-5) == Recommendation(5) {
		t.Fatalf("expected different recommendations for shrinking and growing areas")
	}
	if Recommendation(0) == "" {
		t.Fatalf("expected a recommendation for no change")
	}
}
