package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"facesync/internal/models"
)

type Submitter interface {
	Submit(ctx context.Context, handle models.ImageHandle, userID string) (models.UploadResult, error)
}

// Outcome is what one handle went through: the service answer, the records
// written for it and the first error that stopped it.
type Outcome struct {
	Handle  models.ImageHandle
	Result  models.UploadResult
	Records []models.ImageRecord
	Err     error
}

// Partial reports an upload that succeeded with only some records written.
func (o Outcome) Partial() bool {
	var writeErr *models.WriteError
	return errors.As(o.Err, &writeErr) && writeErr.Partial()
}

// Pipeline submits handles and records their results.
type Pipeline struct {
	uploads       Submitter
	writer        *RecordWriter
	maxConcurrent int
	log           zerolog.Logger
}

func NewPipeline(uploads Submitter, writer *RecordWriter, maxConcurrent int, log zerolog.Logger) *Pipeline {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pipeline{
		uploads:       uploads,
		writer:        writer,
		maxConcurrent: maxConcurrent,
		log:           log,
	}
}

func (p *Pipeline) Upload(ctx context.Context, handle models.ImageHandle, userID string) Outcome {
	out := Outcome{Handle: handle}

	out.Result, out.Err = p.uploads.Submit(ctx, handle, userID)
	if out.Err != nil {
		return out
	}

	out.Records, out.Err = p.writer.RecordUpload(ctx, out.Result, userID, handle.DisplayName)
	if out.Err != nil {
		p.log.Warn().Err(out.Err).
			Str("user_id", userID).
			Str("original_url", out.Result.OriginalURL).
			Int("written", len(out.Records)).
			Msg("upload stored remotely but records incomplete")
	}
	return out
}

// UploadBatch runs independent uploads concurrently. Outcomes keep the
// order of handles and one failure never cancels the others.
func (p *Pipeline) UploadBatch(ctx context.Context, handles []models.ImageHandle, userID string) []Outcome {
	outcomes := make([]Outcome, len(handles))

	var g errgroup.Group
	g.SetLimit(p.maxConcurrent)
	for i, handle := range handles {
		g.Go(func() error {
			outcomes[i] = p.Upload(ctx, handle, userID)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
