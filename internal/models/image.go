package models

import "time"

// ImageHandle is a local, ephemeral reference to picked or captured image
// bytes. It is consumed by an upload and never persisted.
type ImageHandle struct {
	URI         string
	MimeType    string
	DisplayName string
}

type UploadStatus string

const (
	UploadStatusSuccess        UploadStatus = "success"
	UploadStatusPartialFailure UploadStatus = "partial_failure"
	UploadStatusFailure        UploadStatus = "failure"
)

// UploadResult is the processing service's answer to one submission.
type UploadResult struct {
	OriginalURL string
	CroppedURLs []string
	Status      UploadStatus
	Message     string
	FileName    string
}

type ImageKind string

const (
	ImageKindOriginal ImageKind = "original"
	ImageKindCropped  ImageKind = "cropped"
)

func (k ImageKind) Valid() bool {
	return k == ImageKindOriginal || k == ImageKindCropped
}

// ImageRecord references one stored image inside a user scope. Records are
// immutable once written.
type ImageRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ImageURL   string    `json:"imageUrl"`
	FileName   *string   `json:"fileName,omitempty"`
	Kind       ImageKind `json:"kind"`
	OriginalID *string   `json:"originalId,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}
