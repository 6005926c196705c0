package api

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/scrub-gateway/internal/apperr"
	"github.com/ignite/scrub-gateway/internal/auth"
	"github.com/ignite/scrub-gateway/internal/blobs"
	"github.com/ignite/scrub-gateway/internal/domain"
	"github.com/ignite/scrub-gateway/internal/pkg/httputil"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
	"github.com/ignite/scrub-gateway/internal/scrub"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// Handlers contains all HTTP handlers
type Handlers struct {
	service   *scrub.Service
	raw       *scrub.Raw
	maxUpload int64
}

// NewHandlers creates a new handlers instance. maxUpload caps request bodies
// of upload routes; zero means no cap.
func NewHandlers(service *scrub.Service, raw *scrub.Raw, maxUpload int64) *Handlers {
	return &Handlers{service: service, raw: raw, maxUpload: maxUpload}
}

// UploadResponse is returned by a successful scrub-file upload.
type UploadResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// UploadFile stores a file and its configuration.
//
//	POST /scrub-files/upload (multipart: file, fileConfig)
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}
	defer form.RemoveAll()

	fh, err := formFile(form)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		httputil.WriteError(w, r, apperr.Wrap(apperr.BadRequest, "reading file part", err))
		return
	}
	defer f.Close()

	cfg := form.Value["fileConfig"]
	if len(cfg) == 0 {
		httputil.BadRequest(w, "fileConfig is required")
		return
	}

	in := scrub.UploadInput{
		FileConfig:  cfg[0],
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	}
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		in.UserID = id.Subject
	}

	res, err := h.service.Upload(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, UploadResponse{Message: "File uploaded and config saved.", ID: res.ID})
}

// GetStatus returns the processing status of a file.
//
//	GET /scrub-files/status/{id}
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, st)
}

// DownloadResults streams a categorized output file.
//
//	GET /scrub-files/download/{id}?file_type=clean|invalid|dnc
func (h *Handlers) DownloadResults(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Download(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("file_type"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	defer d.Body.Close()
	stream(w, r, d.Body, d.FileName, d.ContentType, d.Size)
}

// ListFiles returns every tracked file.
//
//	GET /scrub-files/list
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"data": recs})
}

// CreateDocument stores a record.
//
//	POST /firestore/create
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var rec domain.FileRecord
	if !httputil.Decode(w, r, &rec) {
		return
	}
	id, err := h.raw.CreateRecord(r.Context(), &rec)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"message": "Document created", "doc_id": id})
}

// GetDocument returns a record.
//
//	GET /firestore/{id}
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	rec, err := h.raw.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, rec)
}

// UpdateDocument replaces a record.
//
//	PUT /firestore/{id}
func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var rec domain.FileRecord
	if !httputil.Decode(w, r, &rec) {
		return
	}
	if err := h.raw.UpdateRecord(r.Context(), chi.URLParam(r, "id"), &rec); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"message": "Document updated"})
}

// DeleteDocument removes a record.
//
//	DELETE /firestore/{id}
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.raw.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"message": "Document deleted"})
}

// UploadBlob stores the multipart file under its own name.
//
//	POST /storage/upload (multipart: file)
func (h *Handlers) UploadBlob(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}
	defer form.RemoveAll()

	fh, err := formFile(form)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		httputil.WriteError(w, r, apperr.Wrap(apperr.BadRequest, "reading file part", err))
		return
	}
	defer f.Close()

	if err := h.raw.PutBlob(r.Context(), fh.Filename, f, fh.Header.Get("Content-Type")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"message": "File uploaded", "file_name": fh.Filename})
}

// DownloadBlob streams a blob.
//
//	GET /storage/download/{name...}
func (h *Handlers) DownloadBlob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	obj, err := h.raw.GetBlob(r.Context(), name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	defer obj.Body.Close()
	stream(w, r, obj.Body, baseName(name), obj.ContentType, obj.Size)
}

// HeadBlob reports whether a blob exists.
//
//	HEAD /storage/{name...}
func (h *Handlers) HeadBlob(w http.ResponseWriter, r *http.Request) {
	ok, err := h.raw.BlobExists(r.Context(), chi.URLParam(r, "*"))
	switch {
	case err != nil:
		w.WriteHeader(httputil.StatusFor(apperr.KindOf(err)))
	case !ok:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

type publishRequest struct {
	Message string `json:"message"`
}

// PublishMessage publishes a raw message and waits for the acknowledgement.
//
//	POST /pubsub/publish?message=... or JSON {"message": ...}
func (h *Handlers) PublishMessage(w http.ResponseWriter, r *http.Request) {
	msg := r.URL.Query().Get("message")
	if msg == "" && r.ContentLength != 0 {
		var req publishRequest
		if !httputil.Decode(w, r, &req) {
			return
		}
		msg = req.Message
	}
	id, err := h.raw.Publish(r.Context(), msg)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"message_id": id, "message": msg})
}

func (h *Handlers) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "too_large",
				"upload exceeds "+strconv.FormatInt(tooLarge.Limit>>20, 10)+" MB")
			return nil, false
		}
		httputil.BadRequest(w, "invalid multipart form: "+err.Error())
		return nil, false
	}
	return r.MultipartForm, true
}

func formFile(form *multipart.Form) (*multipart.FileHeader, error) {
	files := form.File["file"]
	if len(files) == 0 {
		return nil, apperr.BadRequestf("file is required")
	}
	return files[0], nil
}

// stream copies body to w as an attachment.
func stream(w http.ResponseWriter, r *http.Request, body io.Reader, name, contentType string, size int64) {
	if contentType == "" {
		contentType = blobs.ContentTypeFor(name)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logger.Warn("download interrupted", "path", r.URL.Path, "error", err)
	}
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
