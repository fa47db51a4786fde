package tracking

import (
	"fmt"
	"strconv"
	"strings"

	"vitiligo-backend/internal/shared/util"
)

const reportSuffix = "_vitiligo_report.docx"

// AnalysisRequest carries one before/after image pair and the subject metadata
// the worker needs. Scalar fields are kept as received from the form.
type AnalysisRequest struct {
	SubjectName   string
	SubjectAge    string
	SubjectGender string
	IntervalWeeks string
	BeforeImage   []byte
	AfterImage    []byte
}

// Validate checks that both images and every metadata field are present and
// that age and weeks are non-negative numbers.
func (r AnalysisRequest) Validate() error {
	if len(r.BeforeImage) == 0 {
		return fmt.Errorf("%w: before image is required", ErrInvalidInput)
	}
	if len(r.AfterImage) == 0 {
		return fmt.Errorf("%w: after image is required", ErrInvalidInput)
	}
	for _, f := range []struct{ name, value string }{
		{"name", r.SubjectName},
		{"age", r.SubjectAge},
		{"gender", r.SubjectGender},
		{"weeks", r.IntervalWeeks},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, f.name)
		}
	}
	if !nonNegativeNumber(r.SubjectAge) {
		return fmt.Errorf("%w: age must be a non-negative number", ErrInvalidInput)
	}
	if !nonNegativeNumber(r.IntervalWeeks) {
		return fmt.Errorf("%w: weeks must be a non-negative number", ErrInvalidInput)
	}
	return nil
}

// DownloadName is the suggested file name for the delivered report.
func (r AnalysisRequest) DownloadName() string {
	name, err := util.SanitizeFileName(r.SubjectName)
	if err != nil {
		name = "subject"
	}
	name = strings.Map(func(c rune) rune {
		switch c {
		case '"', '\r', '\n', ';':
			return '_'
		}
		return c
	}, name)
	return name + reportSuffix
}

func nonNegativeNumber(s string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && v >= 0
}
