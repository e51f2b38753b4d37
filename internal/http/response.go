package http

import "replaylog/pkg/replay"

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// Entry is one line of a history or replay stream.
type Entry struct {
	Time    int64 `json:"time"`
	Value   Value `json:"value"`
	Restart *bool `json:"restart,omitempty"`
}

func NewEntry(v replay.Timed[Value], restart *bool) Entry {
	return Entry{Time: v.Time, Value: v.Value, Restart: restart}
}
