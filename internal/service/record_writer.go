package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"facesync/internal/ids"
	"facesync/internal/models"
)

type RecordStore interface {
	Create(ctx context.Context, rec models.ImageRecord) error
}

type Publisher interface {
	Publish(ctx context.Context, userID string, records []models.ImageRecord) error
}

// RecordWriter persists references to the images a successful upload
// produced. Each record is written independently.
type RecordWriter struct {
	store RecordStore
	feed  Publisher
	log   zerolog.Logger
	now   func() time.Time
}

func NewRecordWriter(store RecordStore, feed Publisher, log zerolog.Logger) *RecordWriter {
	return &RecordWriter{
		store: store,
		feed:  feed,
		log:   log,
		now:   time.Now,
	}
}

// RecordUpload writes one original record and one cropped record per crop
// URL and returns the records that were written. A failed upload is a no-op.
// When some writes fail the written records are returned together with a
// *models.WriteError listing the rest.
func (w *RecordWriter) RecordUpload(ctx context.Context, result models.UploadResult, userID, displayName string) ([]models.ImageRecord, error) {
	if result.Status == models.UploadStatusFailure {
		return []models.ImageRecord{}, nil
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrAuth)
	}
	if strings.TrimSpace(result.OriginalURL) == "" {
		return nil, fmt.Errorf("%w: upload result has no original url", models.ErrValidation)
	}

	fileName := displayName
	if fileName == "" {
		fileName = result.FileName
	}

	original := w.newRecord(userID, result.OriginalURL, models.ImageKindOriginal)
	if fileName != "" {
		original.FileName = &fileName
	}

	pending := make([]models.ImageRecord, 0, 1+len(result.CroppedURLs))
	pending = append(pending, original)
	for _, u := range result.CroppedURLs {
		crop := w.newRecord(userID, u, models.ImageKindCropped)
		originalID := original.ID
		crop.OriginalID = &originalID
		pending = append(pending, crop)
	}

	written := make([]models.ImageRecord, 0, len(pending))
	var failures []models.RecordFailure
	for _, rec := range pending {
		if err := w.store.Create(ctx, rec); err != nil {
			w.log.Error().Err(err).
				Str("user_id", userID).
				Str("record_id", rec.ID).
				Str("kind", string(rec.Kind)).
				Msg("persist image record failed")
			failures = append(failures, models.RecordFailure{Kind: rec.Kind, ImageURL: rec.ImageURL, Err: err})
			continue
		}
		written = append(written, rec)
	}

	if len(written) > 0 && w.feed != nil {
		if err := w.feed.Publish(ctx, userID, written); err != nil {
			w.log.Warn().Err(err).Str("user_id", userID).Msg("publish snapshot failed")
		}
	}

	if len(failures) > 0 {
		return written, &models.WriteError{Failures: failures, Written: len(written)}
	}

	w.log.Info().
		Str("user_id", userID).
		Int("records", len(written)).
		Msg("image records written")

	return written, nil
}

func (w *RecordWriter) newRecord(userID, imageURL string, kind models.ImageKind) models.ImageRecord {
	now := w.now().UTC()
	return models.ImageRecord{
		ID:         ids.NewAt(now),
		UserID:     userID,
		ImageURL:   imageURL,
		Kind:       kind,
		UploadedAt: now,
	}
}
