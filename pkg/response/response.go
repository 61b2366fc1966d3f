// Package response holds the JSON envelope shared by every API endpoint.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medclinic/clinic/pkg/pagination"
)

// Envelope is the standard response body.
type Envelope struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message"`
	Data       interface{}            `json:"data,omitempty"`
	Pagination *pagination.Pagination `json:"pagination,omitempty"`
}

func OK(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func Created(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

func List(c echo.Context, message string, data interface{}, pg *pagination.Pagination) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data, Pagination: pg})
}

// Fail writes an error envelope with the given status.
func Fail(c echo.Context, status int, message string) error {
	return c.JSON(status, Envelope{Success: false, Message: message})
}
