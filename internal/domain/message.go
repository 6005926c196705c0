package domain

// NotificationMessage is the processing trigger published once per upload.
type NotificationMessage struct {
	FileID             string `json:"fileId"`
	Bucket             string `json:"bucket"`
	FileName           string `json:"fileName"`
	ConfigDocumentPath string `json:"configDocumentPath"`
}
