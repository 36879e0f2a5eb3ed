package model

import "time"

// ScanResult is the outcome of one scanner run. It is never persisted as is.
type ScanResult struct {
	OK      bool      `json:"ok"`
	Backend string    `json:"backend"`
	RawJSON []byte    `json:"-"`
	Stderr  string    `json:"stderr,omitempty"`
	Image   ImageInfo `json:"image"`
}

// ScanLog is the persisted record of a successful scan. ID is assigned by the
// document store and Timestamp is the store's write time.
type ScanLog struct {
	ID         string    `json:"id"`
	Image      ImageInfo `json:"image"`
	Backend    string    `json:"backend"`
	Timestamp  time.Time `json:"timestamp"`
	BlobName   string    `json:"blobName"`
	BucketName string    `json:"bucketName"`
	URL        string    `json:"url"`
}
