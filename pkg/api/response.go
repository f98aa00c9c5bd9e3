package api

import "github.com/gofiber/fiber/v2"

// ApiError represents an error in the API response
type ApiError struct {
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ApiResponse is the standard API response structure
type ApiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *ApiError `json:"error,omitempty"`
}

// SuccessResp sends a successful API response
func SuccessResp(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(&ApiResponse{
		Success: true,
		Data:    data,
	})
}

// ErrorResp sends an error API response
func ErrorResp(c *fiber.Ctx, err ApiError) error {
	status := err.Status
	if status == 0 {
		status = fiber.StatusBadRequest
	}
	err.Status = status
	return c.Status(status).JSON(&ApiResponse{
		Success: false,
		Error:   &err,
	})
}

// ErrorCodeResp sends an error response with a specific status code
func ErrorCodeResp(c *fiber.Ctx, status int, message ...string) error {
	msg := "API Error"
	if len(message) > 0 {
		msg = message[0]
	}
	return ErrorResp(c, ApiError{Status: status, Message: msg})
}

// ErrorBadRequestResp sends a 400 Bad Request error response
func ErrorBadRequestResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusBadRequest, message...)
}

// ErrorConflictResp sends a 409 Conflict error response
func ErrorConflictResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusConflict, message...)
}

// ErrorInternalServerErrorResp sends a 500 Internal Server Error response
func ErrorInternalServerErrorResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusInternalServerError, message...)
}
