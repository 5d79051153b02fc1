package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"gallery_server/server/gallery/service"
)

type Handler struct {
	files  *service.FileService
	events *service.EventHub
}

func NewHandler(files *service.FileService, events *service.EventHub) *Handler {
	return &Handler{files: files, events: events}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, NewMessageResponse(ErrMethodNotAllowed))
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, NewHealthResponse("ok"))
	})

	r.POST("/upload", h.upload)
	r.GET("/files", h.listFiles)
	// Storage keys contain slashes, so the id is a catch-all parameter.
	r.DELETE("/files/*id", h.deleteFile)

	if h.events != nil {
		r.GET("/ws", h.events.HandleWS)
	}
}

// upload accepts one or more multipart fields named "files". Per-file
// failures are logged server-side and reported by omission; the request
// fails outright only when the multipart body itself cannot be parsed.
func (h *Handler) upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, NewMessageResponse(err.Error()))
		return
	}
	records := h.files.UploadBatch(c.Request.Context(), form.File["files"])
	c.JSON(http.StatusCreated, records)
}

func (h *Handler) listFiles(c *gin.Context) {
	records, err := h.files.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewMessageResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) deleteFile(c *gin.Context) {
	id, ok := storageKeyParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, NewMessageResponse(ErrPathnameRequired))
		return
	}

	outcome, err := h.files.Delete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			c.JSON(http.StatusNotFound, NewMessageResponse(ErrFileNotFound))
			return
		}
		c.JSON(http.StatusInternalServerError, NewMessageResponse(err.Error()))
		return
	}
	if outcome.SelfHealed {
		c.JSON(http.StatusOK, NewMessageResponse(MsgFileSelfHealed))
		return
	}
	c.JSON(http.StatusOK, NewMessageResponse(MsgFileDeleted))
}

// storageKeyParam extracts the storage key from the catch-all parameter.
// Clients may send it raw (uploads/abc-note.txt) or URL-encoded
// (uploads%2Fabc-note.txt).
func storageKeyParam(c *gin.Context) (string, bool) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	return id, true
}
