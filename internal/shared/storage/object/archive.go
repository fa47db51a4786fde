package object

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"vitiligo-backend/internal/shared/util"
)

const (
	defaultArchivePrefix = "reports"
	docxContentType      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ReportArchiver copies delivered reports into an ObjectStore under
// <prefix>/<yyyy-mm-dd>/<random>_<name>.
type ReportArchiver struct {
	Store  ObjectStore
	Prefix string
	Now    func() time.Time
}

// NewReportArchiver constructs a ReportArchiver writing under "reports/".
func NewReportArchiver(store ObjectStore) *ReportArchiver {
	return &ReportArchiver{Store: store, Prefix: defaultArchivePrefix, Now: time.Now}
}

// Archive stores r under a fresh key derived from name.
func (a *ReportArchiver) Archive(ctx context.Context, name string, r io.Reader) error {
	if a == nil || a.Store == nil {
		return errors.New("archive store not configured")
	}
	key, err := a.Key(name)
	if err != nil {
		return err
	}
	if _, err := a.Store.Put(ctx, key, docxContentType, r); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}

// Key returns the object key a report named name would be archived under.
func (a *ReportArchiver) Key(name string) (string, error) {
	sanitized, err := util.SanitizeFileName(name)
	if err != nil {
		return "", fmt.Errorf("sanitize report name: %w", err)
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	prefix := a.Prefix
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return path.Join(prefix, now().UTC().Format("2006-01-02"), randomID()+"_"+sanitized), nil
}

func randomID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
