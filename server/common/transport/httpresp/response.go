package httpresp

const (
	ErrPathnameRequired = "File pathname is required."
	ErrFileNotFound     = "File not found in metadata."
	ErrMethodNotAllowed = "Method Not Allowed"

	MsgFileDeleted     = "File deleted successfully."
	MsgFileSelfHealed  = "File already deleted from storage, metadata cleaned."
)

// MessageResponse is the body of every non-payload response: deletion
// outcomes and all error classes alike carry a human-readable message.
type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewMessageResponse(message string) MessageResponse {
	return MessageResponse{Message: message}
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}
