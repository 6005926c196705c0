// Package scrub implements the scrub-file workflows: upload (store blob,
// create record, trigger processing), status lookup, categorized download
// and listing. Gateway failures are translated into apperr kinds here.
package scrub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/ignite/scrub-gateway/internal/apperr"
	"github.com/ignite/scrub-gateway/internal/blobs"
	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/metrics"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
	"github.com/ignite/scrub-gateway/internal/records"
)

// DefaultUploadPrefix is prepended to the file name to form the storage path.
const DefaultUploadPrefix = "uploads/"

// Enqueuer accepts a freshly created record for notification.
type Enqueuer interface {
	Enqueue(rec domain.FileRecord) bool
}

// Service runs the workflows. It is safe for concurrent use.
type Service struct {
	records      records.Store
	blobs        blobs.Store
	notifier     Enqueuer
	uploadPrefix string
	metrics      *metrics.Metrics
	log          *logger.Logger
	now          func() time.Time
}

// Options configure a Service.
type Options struct {
	UploadPrefix string
	Metrics      *metrics.Metrics
}

func NewService(rs records.Store, bs blobs.Store, n Enqueuer, opts Options) *Service {
	prefix := opts.UploadPrefix
	if prefix == "" {
		prefix = DefaultUploadPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Service{
		records:      rs,
		blobs:        bs,
		notifier:     n,
		uploadPrefix: prefix,
		metrics:      opts.Metrics,
		log:          logger.With("component", "scrub"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// UploadInput is one multipart upload.
type UploadInput struct {
	// FileConfig is the raw JSON of the fileConfig form field.
	FileConfig string
	// FileName is the multipart part's file name, used when the config has none.
	FileName    string
	ContentType string
	Body        io.Reader
	// UserID is the authenticated subject, if any.
	UserID string
}

// UploadResult identifies the created record.
type UploadResult struct {
	ID          string `json:"id"`
	StoragePath string `json:"storagePath"`
}

// Upload stores the file, creates its record with stage UPLOADED and queues
// the processing notification. Publishing happens after Upload returns.
func (s *Service) Upload(ctx context.Context, in UploadInput) (res *UploadResult, err error) {
	defer func() { s.observe("upload", err) }()

	var cfg domain.FileConfig
	if err := json.Unmarshal([]byte(in.FileConfig), &cfg); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid JSON for fileConfig", err)
	}
	if strings.TrimSpace(cfg.FileName) == "" {
		cfg.FileName = in.FileName
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err.Error(), err)
	}
	// a verified subject wins over whatever the client claims
	if in.UserID != "" {
		cfg.UploadedByUserID = in.UserID
	}

	storagePath, err := s.storagePath(cfg.FileName)
	if err != nil {
		return nil, err
	}

	if in.Body == nil {
		return nil, apperr.BadRequestf("file is required")
	}
	body := bufio.NewReader(in.Body)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.BadRequestf("file is empty")
		}
		return nil, apperr.Wrap(apperr.BadRequest, "reading upload", err)
	}

	if err := s.blobs.Put(ctx, storagePath, body, in.ContentType); err != nil {
		return nil, apperr.Unavailable("storing file failed", err)
	}

	rec := cfg.NewRecord(storagePath, s.now())
	id, err := s.records.Create(ctx, rec)
	if err != nil {
		s.log.Error("record creation failed after blob upload", "path", storagePath, "error", err)
		return nil, apperr.Unavailable("saving file config failed", err)
	}
	rec.ID = id

	if !s.notifier.Enqueue(*rec) {
		s.log.Warn("notification backlog full, leaving record for reconciliation", "id", id)
	}
	s.log.Info("file uploaded", "id", id, "path", storagePath, "user", cfg.UploadedByUserID)
	return &UploadResult{ID: id, StoragePath: storagePath}, nil
}

// storagePath keeps only the base name of name, under the upload prefix.
func (s *Service) storagePath(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return "", apperr.BadRequestf("invalid file name %q", name)
	}
	return s.uploadPrefix + base, nil
}

// Status returns the processing status of a record.
func (s *Service) Status(ctx context.Context, id string) (st *domain.Status, err error) {
	defer func() { s.observe("status", err) }()

	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec.Status, nil
}

// Download is an open categorized output file. The caller closes Body.
type Download struct {
	Body        io.ReadCloser
	FileName    string
	ContentType string
	Size        int64
}

// Download opens the categorized output of a completed record.
func (s *Service) Download(ctx context.Context, id, fileType string) (d *Download, err error) {
	defer func() { s.observe("download", err) }()

	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Stage != domain.StageDone {
		return nil, apperr.BadRequestf("processing not completed yet")
	}
	cat, err := domain.ParseCategory(fileType)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err.Error(), err)
	}
	p := rec.OutputFiles.Path(cat)
	if p == "" {
		return nil, apperr.NotFoundf("file type %q not found", cat)
	}

	obj, found, err := s.blobs.Get(ctx, p)
	if err != nil {
		return nil, apperr.Unavailable("reading file failed", err)
	}
	if !found {
		s.log.Warn("recorded output missing from blob store", "id", id, "path", p)
		return nil, apperr.NotFoundf("file not found in storage")
	}

	name := path.Base(p)
	return &Download{
		Body:        obj.Body,
		FileName:    name,
		ContentType: blobs.ContentTypeFor(name),
		Size:        obj.Size,
	}, nil
}

// List returns every record.
func (s *Service) List(ctx context.Context) (recs []domain.FileRecord, err error) {
	defer func() { s.observe("list", err) }()

	recs, err = s.records.List(ctx)
	if err != nil {
		return nil, apperr.Unavailable("listing files failed", err)
	}
	if recs == nil {
		recs = []domain.FileRecord{}
	}
	return recs, nil
}

func (s *Service) get(ctx context.Context, id string) (*domain.FileRecord, error) {
	rec, found, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("reading file config failed", err)
	}
	if !found {
		return nil, apperr.NotFoundf("file config not found")
	}
	return rec, nil
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	s.metrics.WorkflowResult(op, outcome)
}
