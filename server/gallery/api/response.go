package api

import (
	"gallery_server/server/common/transport/httpresp"
)

const (
	ErrPathnameRequired = httpresp.ErrPathnameRequired
	ErrFileNotFound     = httpresp.ErrFileNotFound
	ErrMethodNotAllowed = httpresp.ErrMethodNotAllowed

	MsgFileDeleted    = httpresp.MsgFileDeleted
	MsgFileSelfHealed = httpresp.MsgFileSelfHealed
)

type MessageResponse = httpresp.MessageResponse
type HealthResponse = httpresp.HealthResponse

func NewMessageResponse(message string) MessageResponse {
	return httpresp.NewMessageResponse(message)
}

func NewHealthResponse(status string) HealthResponse {
	return httpresp.NewHealthResponse(status)
}
