// Package report renders vitiligo progress reports as minimal DOCX files.
package report

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Progress is the content of one progress report.
type Progress struct {
	SubjectName      string
	SubjectAge       string
	SubjectGender    string
	IntervalWeeks    string
	Recommendation   string
	BeforeArea       float64
	AfterArea        float64
	ChangePercentage float64
	SpeedRate        float64
	GeneratedAt      time.Time
}

type paragraph struct {
	style string
	text  string
}

const (
	contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`
	relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`
	documentHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`
	documentTail = `</w:body></w:document>`
)

// Render builds a DOCX for p.
func Render(p Progress) ([]byte, error) {
	if strings.TrimSpace(p.SubjectName) == "" {
		return nil, errors.New("subject name is required")
	}
	if p.GeneratedAt.IsZero() {
		p.GeneratedAt = time.Now()
	}

	var doc strings.Builder
	doc.WriteString(documentHead)
	for _, para := range paragraphs(p) {
		if err := writeParagraph(&doc, para); err != nil {
			return nil, err
		}
	}
	doc.WriteString(documentTail)

	var output bytes.Buffer
	writer := zip.NewWriter(&output)
	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", relsXML},
		{"word/document.xml", doc.String()},
	}
	for _, part := range parts {
		dst, err := writer.Create(part.name)
		if err != nil {
			return nil, err
		}
		if _, err := dst.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}

func paragraphs(p Progress) []paragraph {
	recommendation := strings.TrimSpace(p.Recommendation)
	if recommendation == "" {
		recommendation = "No recommendation available."
	}
	return []paragraph{
		{style: "Title", text: "Vitiligo Progress Report"},
		{style: "Heading1", text: "Patient Information"},
		{text: "Name: " + p.SubjectName},
		{text: "Age: " + p.SubjectAge},
		{text: "Gender: " + p.SubjectGender},
		{text: fmt.Sprintf("Duration Between Photos: %s weeks", p.IntervalWeeks)},
		{style: "Heading1", text: "Treatment Recommendation"},
		{text: recommendation},
		{style: "Heading1", text: "Progress Summary"},
		{text: fmt.Sprintf("Affected Area Before: %.0f", p.BeforeArea)},
		{text: fmt.Sprintf("Affected Area After: %.0f", p.AfterArea)},
		{text: fmt.Sprintf("Change in Affected Area: %.2f%%", p.ChangePercentage)},
		{text: fmt.Sprintf("Weekly Rate of Change: %.2f%%", p.SpeedRate)},
		{text: "Generated: " + p.GeneratedAt.UTC().Format(time.RFC3339)},
	}
}

func writeParagraph(b *strings.Builder, p paragraph) error {
	b.WriteString("<w:p>")
	if p.style != "" {
		fmt.Fprintf(b, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, p.style)
	}
	b.WriteString(`<w:r><w:t xml:space="preserve">`)
	if err := xml.EscapeText(b, []byte(p.text)); err != nil {
		return err
	}
	b.WriteString("</w:t></w:r></w:p>")
	return nil
}
