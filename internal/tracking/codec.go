package tracking

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"vitiligo-backend/internal/workerproc"
)

// WorkerRequest is the single JSON object written to the worker's stdin.
// Image bytes are carried as standard base64.
type WorkerRequest struct {
	BeforeImage []byte `json:"before_image"`
	AfterImage  []byte `json:"after_image"`
	Weeks       string `json:"weeks"`
	Name        string `json:"name"`
	Age         string `json:"age"`
	Gender      string `json:"gender"`
}

// WorkerResponse is the single JSON object the worker prints on stdout.
type WorkerResponse struct {
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Traceback  string `json:"traceback,omitempty"`
	ReportPath string `json:"report_path,omitempty"`

	BeforeArea              *float64 `json:"before_area,omitempty"`
	AfterArea               *float64 `json:"after_area,omitempty"`
	ChangePercentage        *float64 `json:"change_percentage,omitempty"`
	TreatmentRecommendation string   `json:"treatment_recommendation,omitempty"`
	SpeedRate               *float64 `json:"speed_rate,omitempty"`
}

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeWorkerFailure
	OutcomeProtocolFailure
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeWorkerFailure:
		return "worker_failure"
	case OutcomeProtocolFailure:
		return "protocol_failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Summary holds the measurements a successful worker reports next to the
// report path. Absent fields stay nil.
type Summary struct {
	BeforeArea              *float64
	AfterArea               *float64
	ChangePercentage        *float64
	TreatmentRecommendation string
	SpeedRate               *float64
}

// Outcome is the decoded result of one worker run. Only the fields of the
// variant named by Kind are meaningful.
type Outcome struct {
	Kind OutcomeKind

	// Success
	ArtifactPath string
	Summary      Summary

	// WorkerFailure
	ExitCode   int
	Diagnostic string
	Traceback  string

	// ProtocolFailure
	RawOutput  string
	ParseError string
}

// EncodeRequest serializes req into the worker's request message.
func EncodeRequest(req AnalysisRequest) ([]byte, error) {
	payload, err := json.Marshal(WorkerRequest{
		BeforeImage: req.BeforeImage,
		AfterImage:  req.AfterImage,
		Weeks:       req.IntervalWeeks,
		Name:        req.SubjectName,
		Age:         req.SubjectAge,
		Gender:      req.SubjectGender,
	})
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}
	return payload, nil
}

// DecodeRequest parses a request message back into an AnalysisRequest.
func DecodeRequest(data []byte) (AnalysisRequest, error) {
	var wr WorkerRequest
	if err := decodeSingleObject(data, &wr); err != nil {
		return AnalysisRequest{}, fmt.Errorf("decode worker request: %w", err)
	}
	return AnalysisRequest{
		SubjectName:   wr.Name,
		SubjectAge:    wr.Age,
		SubjectGender: wr.Gender,
		IntervalWeeks: wr.Weeks,
		BeforeImage:   wr.BeforeImage,
		AfterImage:    wr.AfterImage,
	}, nil
}

// DecodeResult interprets a finished worker run. Rules apply in order: a
// timeout wins, then a non-zero exit, then the stdout message itself.
func DecodeResult(res workerproc.Result) Outcome {
	if res.TimedOut {
		return Outcome{Kind: OutcomeTimeout, ExitCode: res.ExitCode, Diagnostic: string(res.Stderr)}
	}
	if res.ExitCode != 0 {
		return Outcome{Kind: OutcomeWorkerFailure, ExitCode: res.ExitCode, Diagnostic: string(res.Stderr)}
	}

	var resp WorkerResponse
	if err := decodeSingleObject(res.Stdout, &resp); err != nil {
		return Outcome{Kind: OutcomeProtocolFailure, RawOutput: string(res.Stdout), ParseError: err.Error()}
	}

	if strings.EqualFold(resp.Status, "error") || resp.Error != "" {
		diag := resp.Message
		if diag == "" {
			diag = resp.Error
		}
		if diag == "" {
			diag = "worker reported an error"
		}
		return Outcome{Kind: OutcomeWorkerFailure, ExitCode: 0, Diagnostic: diag, Traceback: resp.Traceback}
	}

	if strings.TrimSpace(resp.ReportPath) == "" {
		return Outcome{Kind: OutcomeProtocolFailure, RawOutput: string(res.Stdout), ParseError: "missing report_path"}
	}

	return Outcome{
		Kind:         OutcomeSuccess,
		ArtifactPath: resp.ReportPath,
		Summary: Summary{
			BeforeArea:              resp.BeforeArea,
			AfterArea:               resp.AfterArea,
			ChangePercentage:        resp.ChangePercentage,
			TreatmentRecommendation: resp.TreatmentRecommendation,
			SpeedRate:               resp.SpeedRate,
		},
	}
}

var errNotObject = errors.New("expected a single JSON object")

// decodeSingleObject accepts exactly one JSON object, optionally surrounded by
// whitespace.
func decodeSingleObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty output", errNotObject)
	}
	if trimmed[0] != '{' {
		return errNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after object", errNotObject)
	}
	return nil
}
