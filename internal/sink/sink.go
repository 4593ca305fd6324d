// Package sink hands finished transcripts to downstream delivery.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/maauso/speakerscribe/internal/storage"
	"github.com/maauso/speakerscribe/internal/transcript"
)

// Artifact file names inside a job directory.
const (
	JSONName = "transcript.json"
	TextName = "transcript.txt"
)

// Delivery is one finished transcript and where it should go.
type Delivery struct {
	JobID        string
	Recipient    string
	AudioHash    string
	Conversation transcript.Conversation
}

// Receipt records where the artifacts ended up. URLs are empty when
// publishing is not configured.
type Receipt struct {
	JSONPath string
	TextPath string
	JSONURL  string
	TextURL  string
}

// Sink consumes finished transcripts.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) (Receipt, error)
}

// StorageSink writes both artifacts through a storage.Storage and publishes
// them when the storage supports it.
type StorageSink struct {
	store  storage.Storage
	logger *slog.Logger
}

// NewStorageSink creates a StorageSink.
func NewStorageSink(store storage.Storage, logger *slog.Logger) *StorageSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageSink{store: store, logger: logger}
}

// Deliver implements Sink.Deliver.
func (s *StorageSink) Deliver(ctx context.Context, d Delivery) (Receipt, error) {
	jsonDoc, err := d.Conversation.RenderJSON()
	if err != nil {
		return Receipt{}, err
	}
	textDoc := []byte(d.Conversation.RenderText())

	var rc Receipt
	if rc.JSONPath, err = s.store.SaveArtifact(ctx, d.JobID, JSONName, jsonDoc); err != nil {
		return Receipt{}, fmt.Errorf("save %s: %w", JSONName, err)
	}
	if rc.TextPath, err = s.store.SaveArtifact(ctx, d.JobID, TextName, textDoc); err != nil {
		return Receipt{}, fmt.Errorf("save %s: %w", TextName, err)
	}

	prefix := d.JobID
	if d.AudioHash != "" {
		prefix = path.Join(d.AudioHash, d.JobID)
	}

	rc.JSONURL, err = s.store.Publish(ctx, path.Join(prefix, JSONName), "application/json", bytes.NewReader(jsonDoc))
	switch {
	case errors.Is(err, storage.ErrS3NotConfigured):
		s.logger.Debug("publishing disabled, artifacts kept locally", slog.String("job_id", d.JobID))
		return rc, nil
	case err != nil:
		return Receipt{}, fmt.Errorf("publish %s: %w", JSONName, err)
	}
	if rc.TextURL, err = s.store.Publish(ctx, path.Join(prefix, TextName), "text/plain; charset=utf-8", bytes.NewReader(textDoc)); err != nil {
		return Receipt{}, fmt.Errorf("publish %s: %w", TextName, err)
	}

	s.logger.Info("transcript delivered",
		slog.String("job_id", d.JobID),
		slog.String("recipient", d.Recipient),
		slog.String("json_url", rc.JSONURL),
		slog.String("text_url", rc.TextURL),
	)
	return rc, nil
}

// Verify interface implementation at compile time.
var _ Sink = (*StorageSink)(nil)
