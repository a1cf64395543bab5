package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every JSON endpoint returns. Data and Error are
// mutually exclusive; Metadata is always present.
type Response struct {
	Data       interface{} `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody carries a machine-readable code, its message, and optional
// per-field validation details.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes the slice of a listed collection.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// Metadata ties a response back to its request for log correlation.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success writes data wrapped in the standard envelope.
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Data: data, Metadata: metadataFor(c)})
}

// SuccessWithPagination writes a listed collection with its page info.
func SuccessWithPagination(c *gin.Context, status int, data interface{}, p *Pagination) {
	c.JSON(status, Response{Data: data, Pagination: p, Metadata: metadataFor(c)})
}

// Fail writes an error envelope for the given code.
func Fail(c *gin.Context, status int, code ErrCode) {
	c.JSON(status, errorEnvelope(c, code, nil))
}

// FailWithFields writes a validation error with per-field messages.
func FailWithFields(c *gin.Context, status int, code ErrCode, fields map[string]string) {
	c.JSON(status, errorEnvelope(c, code, fields))
}

// AbortFail writes an error envelope and stops the handler chain. Middleware
// must use this instead of Fail so downstream handlers never run.
func AbortFail(c *gin.Context, status int, code ErrCode) {
	c.AbortWithStatusJSON(status, errorEnvelope(c, code, nil))
}

func errorEnvelope(c *gin.Context, code ErrCode, fields map[string]string) Response {
	return Response{
		Error:    &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields},
		Metadata: metadataFor(c),
	}
}

func metadataFor(c *gin.Context) Metadata {
	id := c.GetString(ContextKeyRequestID)
	if id == "" {
		// Route registered without RequestIDMiddleware.
		id = uuid.New().String()
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
