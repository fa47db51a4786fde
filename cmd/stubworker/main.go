package main

// Local stand-in for the Python analysis worker:
//   WORKER_COMMAND="go run ./cmd/stubworker" go run ./cmd/api
//
// STUB_WORKER_MODE=fail exits 1, =error reports an application error,
// =hang sleeps until killed.

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vitiligo-backend/internal/report"
	"vitiligo-backend/internal/tracking"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr, os.Getenv))
}

func run(stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	switch strings.ToLower(strings.TrimSpace(getenv("STUB_WORKER_MODE"))) {
	case "fail":
		fmt.Fprintln(stderr, "stubworker: failing on request")
		return 1
	case "hang":
		fmt.Fprintln(stderr, "stubworker: hanging on request")
		for {
			time.Sleep(time.Hour)
		}
	case "error":
		return respond(stdout, tracking.WorkerResponse{Status: "error", Message: "stub worker asked to report an error"})
	}

	payload, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "stubworker: read stdin: %v\n", err)
		return 1
	}
	req, err := tracking.DecodeRequest(payload)
	if err != nil {
		return respond(stdout, tracking.WorkerResponse{Status: "error", Message: err.Error()})
	}
	if err := req.Validate(); err != nil {
		return respond(stdout, tracking.WorkerResponse{Status: "error", Message: err.Error()})
	}
	fmt.Fprintf(stderr, "stubworker: analysing before=%dB after=%dB weeks=%s\n", len(req.BeforeImage), len(req.AfterImage), req.IntervalWeeks)

	weeks, _ := strconv.ParseFloat(req.IntervalWeeks, 64)
	before := float64(len(req.BeforeImage))
	after := float64(len(req.AfterImage))
	change := report.ChangePercentage(before, after)
	speed := report.SpeedRate(before, after, weeks)
	recommendation := report.Recommendation(speed)

	docx, err := report.Render(report.Progress{
		SubjectName:      req.SubjectName,
		SubjectAge:       req.SubjectAge,
		SubjectGender:    req.SubjectGender,
		IntervalWeeks:    req.IntervalWeeks,
		Recommendation:   recommendation,
		BeforeArea:       before,
		AfterArea:        after,
		ChangePercentage: change,
		SpeedRate:        speed,
	})
	if err != nil {
		return respond(stdout, tracking.WorkerResponse{Status: "error", Message: err.Error()})
	}

	dir := strings.TrimSpace(getenv("REPORTS_DIR"))
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(stderr, "stubworker: create reports dir: %v\n", err)
		return 1
	}
	path := filepath.Join(dir, uuid.NewString()+".docx")
	if err := os.WriteFile(path, docx, 0o644); err != nil {
		fmt.Fprintf(stderr, "stubworker: write report: %v\n", err)
		return 1
	}

	return respond(stdout, tracking.WorkerResponse{
		Status:                  "success",
		ReportPath:              path,
		BeforeArea:              &before,
		AfterArea:               &after,
		ChangePercentage:        &change,
		TreatmentRecommendation: recommendation,
		SpeedRate:               &speed,
	})
}

func respond(stdout io.Writer, resp tracking.WorkerResponse) int {
	if err := json.NewEncoder(stdout).Encode(resp); err != nil {
		return 1
	}
	return 0
}
