package s3

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// API error codes for transient server-side conditions.
var retryableCodes = map[string]bool{
	"Throttling":          true,
	"ThrottlingException": true,
	"RequestThrottled":    true,
	"SlowDown":            true,
	"InternalError":       true,
	"ServiceUnavailable":  true,
}

// API error codes that will keep failing however often we retry.
var terminalCodes = map[string]bool{
	"NoSuchKey":      true,
	"NotFound":       true,
	"AccessDenied":   true,
	"Forbidden":      true,
	"InvalidRange":   true,
	"InvalidRequest": true,
}

// isRetryableError reports whether the failed operation is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if retryableCodes[code] {
			return true
		}
		if terminalCodes[code] {
			return false
		}
	}

	// Fall back to message sniffing for errors the SDK did not type.
	return containsAny(err.Error(),
		"connection reset", "connection refused", "i/o timeout", "503", "500")
}

// isNotFoundError reports whether the object does not exist in the bucket.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}

	return containsAny(err.Error(), "StatusCode: 404", "NotFound", "NoSuchKey")
}

// isInvalidRangeError reports whether the requested byte range fell outside
// the object.
func isInvalidRangeError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidRange"
	}
	return strings.Contains(err.Error(), "InvalidRange")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
