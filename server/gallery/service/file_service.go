package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"gallery_server/server/common/infra/genai"
	"gallery_server/server/common/infra/object"
	commonlog "gallery_server/server/common/log"
	"gallery_server/server/gallery/domain"
)

const (
	uploadKeyPrefix     = "uploads/"
	defaultContentType  = "application/octet-stream"
	thumbnailSizePixels = 320

	descriptionSkipped       = "Description generation skipped: API key not configured on server."
	descriptionInvalidKey    = "Failed: Invalid API Key (server)."
	descriptionRateLimited   = "Failed: Rate limit or quota exceeded (server)."
	descriptionBlocked       = "Description blocked due to safety settings (server)."
	descriptionEmptyResponse = "Could not generate a description (empty response from API)."
)

// ErrFileNotFound reports a deletion request for an id the index does not know.
var ErrFileNotFound = errors.New("file not found in metadata")

// Describer produces a one-sentence natural-language description of an image.
type Describer interface {
	DescribeImage(ctx context.Context, mimeType string, data []byte) (string, error)
}

// DeleteOutcome tells the caller whether the blob was actually removed or
// had already vanished and only the metadata needed cleaning.
type DeleteOutcome struct {
	SelfHealed bool
}

// FileService runs the upload pipeline and the deletion flow against the
// blob store, the metadata index, the optional description provider and the
// optional event sinks.
type FileService struct {
	store     object.Store
	index     *MetadataIndex
	describer Describer
	events    *EventHub
	publisher *EventPublisher
}

func NewFileService(store object.Store, index *MetadataIndex, describer Describer, events *EventHub, publisher *EventPublisher) *FileService {
	return &FileService{
		store:     store,
		index:     index,
		describer: describer,
		events:    events,
		publisher: publisher,
	}
}

// List returns the metadata index verbatim, newest first.
func (s *FileService) List(ctx context.Context) ([]domain.FileRecord, error) {
	return s.index.List(ctx)
}

// UploadBatch processes each file in order. A file that fails is logged and
// omitted from the result; files already processed stay stored and indexed.
// The batch as a whole succeeds as long as it could be attempted at all.
func (s *FileService) UploadBatch(ctx context.Context, files []*multipart.FileHeader) []domain.FileRecord {
	records := make([]domain.FileRecord, 0, len(files))
	for _, fh := range files {
		record, err := s.processUpload(ctx, fh)
		if err != nil {
			commonlog.Errorf("upload %s: %v", fh.Filename, err)
			continue
		}
		records = append(records, record)
		s.emit(ctx, EventFileUploaded, record.ID, &record)
	}
	return records
}

// processUpload stores one file and appends its record to the index. The
// temporary copy owns the file content for the whole pipeline: it must stay
// readable until both the store step and the description step are done, and
// it is removed on every exit path.
func (s *FileService) processUpload(ctx context.Context, fh *multipart.FileHeader) (domain.FileRecord, error) {
	src, err := fh.Open()
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "gallery-upload-*")
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, src)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("buffer upload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return domain.FileRecord{}, err
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	originalName := filepath.Base(fh.Filename)
	key := uploadKeyPrefix + uuid.NewString() + "-" + originalName

	url, err := s.store.Put(ctx, key, tmp, size, contentType)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("store %s: %w", key, err)
	}

	record := domain.FileRecord{
		ID:      key,
		Name:    originalName,
		Type:    contentType,
		Size:    size,
		URL:     url,
		IsImage: strings.HasPrefix(contentType, "image/"),
	}

	if record.IsImage {
		// Read from the temp copy, not the stored object: the blob store
		// round-trip is not needed and the copy is still on disk here.
		data, readErr := os.ReadFile(tmp.Name())
		if readErr != nil {
			record.Description = failureDescription(readErr)
		} else {
			record.Description = s.describe(ctx, contentType, data)
			if thumbURL, thumbErr := s.makeThumbnail(ctx, key, data); thumbErr == nil {
				record.ThumbnailURL = thumbURL
			} else {
				commonlog.Debugf("thumbnail %s: %v", key, thumbErr)
			}
		}
	}

	if err := s.index.Append(ctx, record); err != nil {
		return domain.FileRecord{}, fmt.Errorf("index %s: %w", key, err)
	}
	return record, nil
}

// describe maps every provider failure to a short descriptive string so the
// upload itself never fails on the description step.
func (s *FileService) describe(ctx context.Context, mimeType string, data []byte) string {
	if s.describer == nil {
		return descriptionSkipped
	}
	text, err := s.describer.DescribeImage(ctx, mimeType, data)
	if err != nil {
		commonlog.Warnf("describe image: %v", err)
		return failureDescription(err)
	}
	return strings.TrimSpace(text)
}

func failureDescription(err error) string {
	switch {
	case errors.Is(err, genai.ErrInvalidAPIKey):
		return descriptionInvalidKey
	case errors.Is(err, genai.ErrRateLimited):
		return descriptionRateLimited
	case errors.Is(err, genai.ErrBlocked):
		return descriptionBlocked
	case errors.Is(err, genai.ErrEmptyResponse):
		return descriptionEmptyResponse
	}
	msg := err.Error()
	if len(msg) > 100 {
		msg = msg[:100]
	}
	return fmt.Sprintf("Failed: %s (server)", msg)
}

func (s *FileService) makeThumbnail(ctx context.Context, key string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumb := imaging.Thumbnail(img, thumbnailSizePixels, thumbnailSizePixels, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}
	reader := bytes.NewReader(buf.Bytes())
	return s.store.Put(ctx, thumbnailKey(key), reader, int64(reader.Len()), "image/jpeg")
}

func thumbnailKey(key string) string {
	return strings.TrimSuffix(key, filepath.Ext(key)) + "_thumb.jpg"
}

// Delete removes the blob and then the index entry. An unknown id yields
// ErrFileNotFound without touching storage. A blob that is already gone is
// treated as success and the stale entry is cleaned up anyway; any other
// storage failure leaves the entry intact so the caller can retry.
func (s *FileService) Delete(ctx context.Context, id string) (DeleteOutcome, error) {
	record, found, err := s.index.Find(ctx, id)
	if err != nil {
		return DeleteOutcome{}, err
	}
	if !found {
		return DeleteOutcome{}, fmt.Errorf("%s: %w", id, ErrFileNotFound)
	}

	outcome := DeleteOutcome{}
	if err := s.store.Remove(ctx, record.ID); err != nil {
		if !errors.Is(err, object.ErrNotFound) {
			return DeleteOutcome{}, fmt.Errorf("delete blob %s: %w", record.ID, err)
		}
		outcome.SelfHealed = true
	}
	if record.ThumbnailURL != "" {
		if err := s.store.Remove(ctx, thumbnailKey(record.ID)); err != nil && !errors.Is(err, object.ErrNotFound) {
			commonlog.Warnf("delete thumbnail for %s: %v", record.ID, err)
		}
	}

	if err := s.index.Remove(ctx, id); err != nil {
		return DeleteOutcome{}, err
	}
	s.emit(ctx, EventFileDeleted, id, nil)
	return outcome, nil
}

func (s *FileService) emit(ctx context.Context, eventType, id string, record *domain.FileRecord) {
	event := Event{Type: eventType, ID: id, Record: record}
	if s.events != nil {
		s.events.Broadcast(event)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			commonlog.Warnf("publish %s event: %v", eventType, err)
		}
	}
}
