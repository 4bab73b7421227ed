// Package protocol defines shared message types for client-helper communication.
package protocol

import (
	"encoding/json"
	"fmt"
)

// SocketPath is the default Unix socket path of the helper daemon.
const SocketPath = "/var/run/hostsmanager.sock"

// MaxContentSize caps the hosts file content accepted in a write request.
const MaxContentSize = 4 << 20

// RequestType defines the type of request.
type RequestType string

const (
	RequestPing    RequestType = "ping"
	RequestVersion RequestType = "version"
	RequestStatus  RequestType = "status"
	RequestRead    RequestType = "read"
	RequestWrite   RequestType = "write"
	RequestBackup  RequestType = "backup"
	RequestRestore RequestType = "restore"
	RequestBackups RequestType = "backups"
)

// ErrorCode defines standard error codes.
type ErrorCode string

const (
	ErrCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCodeReadFailed      ErrorCode = "READ_FAILED"
	ErrCodeWriteFailed     ErrorCode = "WRITE_FAILED"
	ErrCodeBackupFailed    ErrorCode = "BACKUP_FAILED"
	ErrCodeRestoreFailed   ErrorCode = "RESTORE_FAILED"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrCodePermissionError ErrorCode = "PERMISSION_ERROR"
)

// Request represents a client request to the helper. ID is echoed back in
// the response so several calls can share one connection.
type Request struct {
	ID      uint64          `json:"id"`
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WritePayload is the payload for write requests.
type WritePayload struct {
	Content []byte `json:"content"`
}

// RestorePayload is the payload for restore requests. An empty name selects
// the most recent backup.
type RestorePayload struct {
	Name string `json:"name,omitempty"`
}

// Response represents a helper response.
type Response struct {
	ID      uint64          `json:"id"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    ErrorCode       `json:"code,omitempty"`
}

// PingData is the data for ping responses.
type PingData struct {
	OK bool `json:"ok"`
}

// VersionData is the data for version responses.
type VersionData struct {
	Version string `json:"version"`
}

// StatusData is the data for status responses.
type StatusData struct {
	Running      bool   `json:"running"`
	Version      string `json:"version"`
	Uptime       int64  `json:"uptime_seconds"`
	RequestCount int64  `json:"request_count"`
	HostsPath    string `json:"hosts_path"`
}

// ReadData is the data for read responses.
type ReadData struct {
	Content []byte `json:"content"`
}

// BackupData is the data for backup responses.
type BackupData struct {
	Name string `json:"name"`
}

// RestoreData is the data for restore responses.
type RestoreData struct {
	Name string `json:"name"`
}

// BackupsData is the data for backups responses.
type BackupsData struct {
	Backups []BackupInfo `json:"backups"`
}

// BackupInfo represents a backup file.
type BackupInfo struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	Size      int64  `json:"size"`
}

// NewRequest creates a new request with the given type and payload.
func NewRequest(reqType RequestType, payload interface{}) (*Request, error) {
	req := &Request{Type: reqType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}
	return req, nil
}

// NewOKResponse creates a success response with optional data.
func NewOKResponse(data interface{}) (*Response, error) {
	resp := &Response{Status: "ok"}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		resp.Data = dataBytes
	}
	return resp, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(code ErrorCode, message string) *Response {
	return &Response{
		Status:  "error",
		Code:    code,
		Message: message,
	}
}

// ParsePayload unmarshals the request payload into the given target.
func (r *Request) ParsePayload(target interface{}) error {
	if r.Payload == nil {
		return fmt.Errorf("no payload in request")
	}
	return json.Unmarshal(r.Payload, target)
}

// ParseData unmarshals the response data into the given target.
func (r *Response) ParseData(target interface{}) error {
	if r.Data == nil {
		return fmt.Errorf("no data in response")
	}
	return json.Unmarshal(r.Data, target)
}

// IsOK returns true if the response indicates success.
func (r *Response) IsOK() bool {
	return r.Status == "ok"
}

// Err converts an error response into an error. It returns nil for success.
func (r *Response) Err() error {
	if r.IsOK() {
		return nil
	}
	return &RemoteError{Code: r.Code, Message: r.Message}
}

// RemoteError is a failure reported by the helper.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
