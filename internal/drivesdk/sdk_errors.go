package drivesdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL   = errors.New("sdk: server url missing")
	ErrNoDownloadURL = errors.New("sdk: download url missing")
)

// Server response codes. Zero is success; everything else maps to an *APIError.
const (
	CodeOK                 = 0
	CodeNotLoggedIn        = 401
	CodeCredentialsInvalid = 40001
	CodeObjectExisted      = 40002
	CodeCaptchaRequired    = 40003
	CodeNotFound           = 40004
	CodeQuotaExceeded      = 40010
	CodeFileTooLarge       = 40049
	CodeStaleVersion       = 40073
	CodeServerError        = 50001
)

// APIError is a non-zero envelope code from the drive server.
type APIError struct {
	Code int
	Msg  string
	Op   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s: code=%d %s", e.Op, e.Code, e.Msg)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Retryable reports whether the error is worth retrying: transport errors and
// server-side failures are, rejected requests are not.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= CodeServerError
	}
	// transport-level error
	return err != nil
}

// unwrap checks the transport error and the envelope code for one response.
func unwrap[T any](resp *req.Response, requestErr error, envelope *apiResponse[T], op string) error {
	if requestErr != nil {
		return fmt.Errorf("http request: %s: %w", op, requestErr)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("http status: %s: %s", op, resp.Status)
	}
	if envelope.Code != CodeOK {
		return &APIError{Code: envelope.Code, Msg: envelope.Msg, Op: op}
	}
	return nil
}
