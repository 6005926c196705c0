package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage enumerates the processing states of an uploaded file.
type Stage string

const (
	StageUploaded   Stage = "UPLOADED"
	StageProcessing Stage = "PROCESSING"
	StageDone       Stage = "DONE"
	StageError      Stage = "ERROR"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageUploaded, StageProcessing, StageDone, StageError:
		return true
	}
	return false
}

// Status is the processing state of a record. The external worker owns it
// after creation.
type Status struct {
	Stage       Stage     `json:"stage" dynamodbav:"stage"`
	LastUpdated time.Time `json:"lastUpdated" dynamodbav:"lastUpdated"`
}

// OutputFiles holds blob paths for the uploaded file and its categorized outputs.
type OutputFiles struct {
	BaseFilePath    string `json:"baseFilePath" dynamodbav:"baseFilePath"`
	CleanFilePath   string `json:"cleanFilePath" dynamodbav:"cleanFilePath"`
	InvalidFilePath string `json:"invalidFilePath" dynamodbav:"invalidFilePath"`
	DNCFilePath     string `json:"dncFilePath" dynamodbav:"dncFilePath"`
}

// HasCategorized reports whether any categorized output path is set.
func (o OutputFiles) HasCategorized() bool {
	return o.CleanFilePath != "" || o.InvalidFilePath != "" || o.DNCFilePath != ""
}

// Notification records the delivery of the processing trigger for a record.
// A zero MessageID means the trigger has not been acknowledged by the queue.
type Notification struct {
	MessageID   string    `json:"messageId,omitempty" dynamodbav:"messageId,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty" dynamodbav:"publishedAt,omitempty"`
	Attempts    int       `json:"attempts,omitempty" dynamodbav:"attempts,omitempty"`
}

// FileRecord is the tracked configuration and state of one uploaded file.
type FileRecord struct {
	ID                 string            `json:"id" dynamodbav:"id"`
	FileName           string            `json:"fileName" dynamodbav:"fileName"`
	UploadedByUserID   string            `json:"uploadedByUserId" dynamodbav:"uploadedByUserId"`
	PhoneColumns       []string          `json:"phoneColumns" dynamodbav:"phoneColumns"`
	ColumnAliases      map[string]string `json:"columnAliases" dynamodbav:"columnAliases"`
	PhoneColumnIndexes []int             `json:"phoneColumnIndexes" dynamodbav:"phoneColumnIndexes"`
	PhoneOrderIndexes  []int             `json:"phoneOrderIndexes" dynamodbav:"phoneOrderIndexes"`
	HasHeaderRow       bool              `json:"hasHeaderRow" dynamodbav:"hasHeaderRow"`
	Timestamp          time.Time         `json:"timestamp" dynamodbav:"timestamp"`
	Status             Status            `json:"status" dynamodbav:"status"`
	OutputFiles        OutputFiles       `json:"outputFiles" dynamodbav:"outputFiles"`
	Notification       Notification      `json:"notification" dynamodbav:"notification"`
}

// ErrInvalidRecord is wrapped by every validation failure.
var ErrInvalidRecord = errors.New("invalid file record")

// Validate checks the structural invariants of a record as stored.
func (r *FileRecord) Validate() error {
	if strings.TrimSpace(r.FileName) == "" {
		return fmt.Errorf("%w: fileName is required", ErrInvalidRecord)
	}
	if !r.Status.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidRecord, r.Status.Stage)
	}
	if r.Status.Stage != StageDone && r.OutputFiles.HasCategorized() {
		return fmt.Errorf("%w: categorized output paths are only allowed when stage is %s", ErrInvalidRecord, StageDone)
	}
	return nil
}

// FileConfig is the caller-supplied configuration sent with an upload. It
// mirrors the creation-time fields of FileRecord.
type FileConfig struct {
	FileName           string            `json:"fileName"`
	UploadedByUserID   string            `json:"uploadedByUserId"`
	PhoneColumns       []string          `json:"phoneColumns"`
	ColumnAliases      map[string]string `json:"columnAliases"`
	PhoneColumnIndexes []int             `json:"phoneColumnIndexes"`
	PhoneOrderIndexes  []int             `json:"phoneOrderIndexes"`
	HasHeaderRow       bool              `json:"hasHeaderRow"`
	Timestamp          *time.Time        `json:"timestamp,omitempty"`
	OutputFiles        *OutputFiles      `json:"outputFiles,omitempty"`
}

// Validate checks the fields an upload needs before anything is stored.
func (c *FileConfig) Validate() error {
	if strings.TrimSpace(c.FileName) == "" {
		return fmt.Errorf("%w: fileName is required", ErrInvalidRecord)
	}
	if len(c.PhoneColumns) == 0 {
		return fmt.Errorf("%w: phoneColumns must not be empty", ErrInvalidRecord)
	}
	for _, idx := range c.PhoneColumnIndexes {
		if idx < 0 {
			return fmt.Errorf("%w: phoneColumnIndexes must be non-negative", ErrInvalidRecord)
		}
	}
	if c.OutputFiles != nil && c.OutputFiles.HasCategorized() {
		return fmt.Errorf("%w: categorized output paths are assigned by processing and only exist once the record is %s; omit outputFiles on upload", ErrInvalidRecord, StageDone)
	}
	return nil
}

// NewRecord builds the record created by an upload. The id is left empty; the
// record store assigns it.
func (c *FileConfig) NewRecord(storagePath string, now time.Time) *FileRecord {
	rec := &FileRecord{
		FileName:           c.FileName,
		UploadedByUserID:   c.UploadedByUserID,
		PhoneColumns:       append([]string(nil), c.PhoneColumns...),
		ColumnAliases:      make(map[string]string, len(c.ColumnAliases)),
		PhoneColumnIndexes: append([]int(nil), c.PhoneColumnIndexes...),
		PhoneOrderIndexes:  append([]int(nil), c.PhoneOrderIndexes...),
		HasHeaderRow:       c.HasHeaderRow,
		Timestamp:          now,
		Status:             Status{Stage: StageUploaded, LastUpdated: now},
	}
	for k, v := range c.ColumnAliases {
		rec.ColumnAliases[k] = v
	}
	if c.Timestamp != nil && !c.Timestamp.IsZero() {
		rec.Timestamp = c.Timestamp.UTC()
	}
	if c.OutputFiles != nil {
		rec.OutputFiles = *c.OutputFiles
	}
	rec.OutputFiles.BaseFilePath = storagePath
	return rec
}
