package store

import (
	"strings"
	"sync"
	"time"

	"charassets/domain"
)

// UploadLedger maps object key -> UploadRecord. Keys in the ledger are done.
type UploadLedger struct {
	path    string
	mu      sync.Mutex
	records map[string]domain.UploadRecord
	dirty   bool
}

func OpenUploadLedger(path string) (*UploadLedger, error) {
	l := &UploadLedger{path: path, records: make(map[string]domain.UploadRecord)}
	if _, err := ReadJSON(path, &l.records); err != nil {
		return nil, err
	}
	if l.records == nil {
		l.records = make(map[string]domain.UploadRecord)
	}
	return l, nil
}

func (l *UploadLedger) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[strings.TrimSpace(key)]
	return ok
}

func (l *UploadLedger) Get(key string) (domain.UploadRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[strings.TrimSpace(key)]
	return r, ok
}

func (l *UploadLedger) Put(rec domain.UploadRecord) {
	key := strings.TrimSpace(rec.Key)
	if key == "" {
		return
	}
	rec.Key = key
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key] = rec
	l.dirty = true
}

func (l *UploadLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *UploadLedger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}
	if err := WriteJSON(l.path, l.records); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

// FailureLedger is append-only within a run.
type FailureLedger struct {
	path string
	mu   sync.Mutex
	doc  domain.FailureLedgerDoc
	now  func() time.Time
}

func OpenFailureLedger(path string) (*FailureLedger, error) {
	f := &FailureLedger{path: path, now: time.Now}
	if _, err := ReadJSON(path, &f.doc); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FailureLedger) AddDownloadFailure(variant, url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.DownloadFailures = append(f.doc.DownloadFailures, domain.FailureEntry{
		Variant:   variant,
		URL:       url,
		Error:     errString(err),
		Timestamp: f.now(),
	})
}

func (f *FailureLedger) AddUploadFailure(variant, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.UploadFailures = append(f.doc.UploadFailures, domain.FailureEntry{
		Variant:   variant,
		Key:       key,
		Error:     errString(err),
		Timestamp: f.now(),
	})
}

// Snapshot returns a copy of the current document.
func (f *FailureLedger) Snapshot() domain.FailureLedgerDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.doc
	out.DownloadFailures = append([]domain.FailureEntry(nil), f.doc.DownloadFailures...)
	out.UploadFailures = append([]domain.FailureEntry(nil), f.doc.UploadFailures...)
	return out
}

func (f *FailureLedger) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.LastUpdate = f.now()
	if f.doc.DownloadFailures == nil {
		f.doc.DownloadFailures = []domain.FailureEntry{}
	}
	if f.doc.UploadFailures == nil {
		f.doc.UploadFailures = []domain.FailureEntry{}
	}
	return WriteJSON(f.path, f.doc)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
