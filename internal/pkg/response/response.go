package response

import (
	"grove-ledger/internal/pkg/apperror"

	"github.com/gofiber/fiber/v2"
)

// SuccessBody is the standardized success JSON shape.
type SuccessBody struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ErrorBody is the standardized error JSON shape.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail is the nested error object. Code is a stable reason code clients can switch on.
type ErrorDetail struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Details    interface{} `json:"details,omitempty"`
}

const statusSuccess = "success"
const statusError = "error"

const codeInternal = "internal_error"

// Success sends a 200 OK response with the standard success format.
func Success(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return send(c, fiber.StatusOK, message, data, metadata)
}

// SuccessCreated sends a 201 Created response with the standard success format.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return send(c, fiber.StatusCreated, message, data, metadata)
}

// Accepted sends 202 for operations whose outcome is not settled yet (claims left processing).
func Accepted(c *fiber.Ctx, message string, data interface{}) error {
	return send(c, fiber.StatusAccepted, message, data, nil)
}

func send(c *fiber.Ctx, status int, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(status).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// Error sends a response with the standard error format.
func Error(c *fiber.Ctx, code, message string, statusCode int, details interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return c.Status(statusCode).JSON(ErrorBody{
		Status: statusError,
		Error: ErrorDetail{
			Code:       code,
			Message:    message,
			StatusCode: statusCode,
			Details:    details,
		},
	})
}

// FromError renders a service error. Typed errors keep their code and message; anything else
// becomes a generic 500 so internals never leak.
func FromError(c *fiber.Ctx, err error) error {
	if e, ok := apperror.From(err); ok {
		return Error(c, e.Code, e.Message, apperror.HTTPStatus(e.Kind), nil)
	}
	return Error(c, codeInternal, "Internal Server Error", fiber.StatusInternalServerError, nil)
}

// BadRequest sends 400 with the validation code used by handler-level input checks.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, "invalid_request", message, fiber.StatusBadRequest, nil)
}

// Forbidden sends 403 for requests without a valid admin key.
func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, "forbidden", message, fiber.StatusForbidden, nil)
}
