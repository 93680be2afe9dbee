package domain

import "time"

// UploadRecord is one entry of the upload ledger, keyed by object key.
// A key present in the ledger is never uploaded again.
type UploadRecord struct {
	Key       string    `json:"key"`
	Variant   string    `json:"variant"`
	Timestamp time.Time `json:"timestamp"`
	// Converted is true when the uploaded bytes are the transcoded file.
	Converted bool   `json:"converted"`
	Skipped   bool   `json:"skipped"`
	URL       string `json:"url,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

type FailureEntry struct {
	Variant   string    `json:"variant,omitempty"`
	URL       string    `json:"url,omitempty"`
	Key       string    `json:"key,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureLedgerDoc is the persisted shape of the failure ledger.
type FailureLedgerDoc struct {
	DownloadFailures []FailureEntry `json:"downloadFailures"`
	UploadFailures   []FailureEntry `json:"uploadFailures"`
	LastUpdate       time.Time      `json:"lastUpdate"`
}
