package health

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func found(string) (string, error)   { return "/usr/bin/python3", nil }
func missing(string) (string, error) { return "", errors.New("not found") }

func TestStatus(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		binary     string
		lookPath   func(string) (string, error)
		wantOK     bool
		wantDB     string
		wantWorker string
	}{
		{name: "no database", binary: "python3", lookPath: found, wantOK: true, wantDB: "disabled", wantWorker: "ok"},
		{name: "database up", db: fakePinger{}, binary: "python3", lookPath: found, wantOK: true, wantDB: "ok", wantWorker: "ok"},
		{name: "database down", db: fakePinger{err: errors.New("refused")}, binary: "python3", lookPath: found, wantOK: false, wantDB: "unreachable", wantWorker: "ok"},
		{name: "worker missing", binary: "python3", lookPath: missing, wantOK: false, wantDB: "disabled", wantWorker: "not found"},
		{name: "worker not configured", lookPath: found, wantOK: false, wantDB: "disabled", wantWorker: "not configured"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := &Service{DB: tt.db, WorkerBinary: tt.binary, lookPath: tt.lookPath}
			ok, checks := s.Status(context.Background())
			if ok != tt.wantOK || checks["database"] != tt.wantDB || checks["worker"] != tt.wantWorker {
				t.Fatalf("Status = %v %v", ok, checks)
			}
		})
	}
}
