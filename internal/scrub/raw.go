package scrub

import (
	"context"
	"io"

	"github.com/ignite/scrub-gateway/internal/apperr"
	"github.com/ignite/scrub-gateway/internal/blobs"
	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/notify"
	"github.com/ignite/scrub-gateway/internal/records"
)

// Raw exposes single-gateway operations for authenticated administrative
// callers, with the same error translation as the workflows.
type Raw struct {
	records records.Store
	blobs   blobs.Store
	pub     notify.Publisher
	project string
}

func NewRaw(rs records.Store, bs blobs.Store, pub notify.Publisher, project string) *Raw {
	return &Raw{records: rs, blobs: bs, pub: pub, project: project}
}

func (r *Raw) CreateRecord(ctx context.Context, rec *domain.FileRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", apperr.Wrap(apperr.BadRequest, err.Error(), err)
	}
	id, err := r.records.Create(ctx, rec)
	if err != nil {
		return "", apperr.Unavailable("creating record failed", err)
	}
	return id, nil
}

func (r *Raw) GetRecord(ctx context.Context, id string) (*domain.FileRecord, error) {
	rec, found, err := r.records.Get(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable("reading record failed", err)
	}
	if !found {
		return nil, apperr.NotFoundf("record not found")
	}
	return rec, nil
}

func (r *Raw) UpdateRecord(ctx context.Context, id string, rec *domain.FileRecord) error {
	if err := rec.Validate(); err != nil {
		return apperr.Wrap(apperr.BadRequest, err.Error(), err)
	}
	found, err := r.records.Update(ctx, id, rec)
	if err != nil {
		return apperr.Unavailable("updating record failed", err)
	}
	if !found {
		return apperr.NotFoundf("record not found")
	}
	return nil
}

func (r *Raw) DeleteRecord(ctx context.Context, id string) error {
	found, err := r.records.Delete(ctx, id)
	if err != nil {
		return apperr.Unavailable("deleting record failed", err)
	}
	if !found {
		return apperr.NotFoundf("record not found")
	}
	return nil
}

func (r *Raw) PutBlob(ctx context.Context, name string, body io.Reader, contentType string) error {
	if name == "" {
		return apperr.BadRequestf("blob name is required")
	}
	if err := r.blobs.Put(ctx, name, body, contentType); err != nil {
		return apperr.Unavailable("storing blob failed", err)
	}
	return nil
}

func (r *Raw) GetBlob(ctx context.Context, name string) (*blobs.Object, error) {
	obj, found, err := r.blobs.Get(ctx, name)
	if err != nil {
		return nil, apperr.Unavailable("reading blob failed", err)
	}
	if !found {
		return nil, apperr.NotFoundf("blob not found")
	}
	return obj, nil
}

func (r *Raw) BlobExists(ctx context.Context, name string) (bool, error) {
	ok, err := r.blobs.Exists(ctx, name)
	if err != nil {
		return false, apperr.Unavailable("checking blob failed", err)
	}
	return ok, nil
}

// Publish sends message and waits for the broker's acknowledgement.
func (r *Raw) Publish(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", apperr.BadRequestf("message is required")
	}
	id, err := r.pub.Publish(ctx, []byte(message), map[string]string{"project": r.project})
	if err != nil {
		return "", apperr.Unavailable("publishing message failed", err)
	}
	return id, nil
}
