//go:build !unix

package workerproc

import "testing"

func assertProcessGone(t *testing.T, pid int) {
	t.Helper()
	if pid <= 0 {
		t.Fatalf("expected worker pid, got %d", pid)
	}
}
