package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key under which the request logger stores the correlation id.
const RequestIDKey = "request_id"

// Body is the standard API response envelope.
type Body struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func write(c *gin.Context, status int, data interface{}, err string) {
	c.JSON(status, Body{
		Success:   err == "",
		Data:      data,
		Error:     err,
		RequestID: c.GetString(RequestIDKey),
	})
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) { write(c, http.StatusOK, data, "") }

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) { write(c, http.StatusCreated, data, "") }

// Accepted sends 202: the work was queued, not done.
func Accepted(c *gin.Context, data interface{}) { write(c, http.StatusAccepted, data, "") }

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) { write(c, http.StatusBadRequest, nil, err) }

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) { write(c, http.StatusUnauthorized, nil, err) }

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) { write(c, http.StatusForbidden, nil, err) }

// NotFound sends 404.
func NotFound(c *gin.Context, err string) { write(c, http.StatusNotFound, nil, err) }

// Conflict sends 409.
func Conflict(c *gin.Context, err string) { write(c, http.StatusConflict, nil, err) }

// TooLarge sends 413.
func TooLarge(c *gin.Context, err string) { write(c, http.StatusRequestEntityTooLarge, nil, err) }

// ServiceUnavailable sends 503. Callers are expected to retry.
func ServiceUnavailable(c *gin.Context, err string) { write(c, http.StatusServiceUnavailable, nil, err) }

// Internal sends 500. err must not leak storage details.
func Internal(c *gin.Context, err string) { write(c, http.StatusInternalServerError, nil, err) }
