package handler

import (
	"errors"

	"github.com/beacon/pipeline/pkg/response"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders errors that escape handlers in the API error shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
