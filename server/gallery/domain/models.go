package domain

// FileRecord is one uploaded file's persisted metadata. ID is the storage
// key assigned at upload time and doubles as the external identifier for
// deletion. URL is the public address the blob store returned at store time.
type FileRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	Description  string `json:"description,omitempty"`
	IsImage      bool   `json:"isImage"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}
