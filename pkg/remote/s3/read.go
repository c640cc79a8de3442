package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/remote"
)

// Fetch downloads the whole payload for key.
//
// Transient errors (network issues, throttling, 5xx) are retried with
// exponential backoff. Not found and access denied errors are not retried.
func (s *Source) Fetch(ctx context.Context, key content.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	objectKey := s.objectKey(key)

	var result *s3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("Fetch: retrying", "attempt", attempt, "max_retries", s.maxRetries, "key", objectKey)
			if err := s.backoff.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, lastErr = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		})
		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return nil, fmt.Errorf("content %s: %w", key, remote.ErrNotFound)
		}
		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("Fetch: transient error", "attempt", attempt+1, "key", objectKey, "error", lastErr)
	}

	if lastErr != nil {
		err := fmt.Errorf("failed to get object after %d attempts: %w", s.maxRetries+1, lastErr)
		if isRetryableError(lastErr) {
			return nil, remote.Transient(err)
		}
		return nil, err
	}

	defer func() { _ = result.Body.Close() }()

	payload, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, remote.Transient(fmt.Errorf("failed to read object body: %w", err))
	}
	return payload, nil
}

// FetchRange downloads bytes [offset, offset+length) using an S3 byte-range
// request, so resumable downloads never re-pull completed chunks.
func (s *Source) FetchRange(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if offset < 0 || length <= 0 {
		return nil, fmt.Errorf("invalid range [%d, %d)", offset, offset+length)
	}

	objectKey := s.objectKey(key)

	// S3 ranges are inclusive, so end = offset + length - 1.
	rangeStr := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)

	var result *s3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("FetchRange: retrying", "attempt", attempt, "max_retries", s.maxRetries, "key", objectKey, "offset", offset)
			if err := s.backoff.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, lastErr = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
			Range:  aws.String(rangeStr),
		})
		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return nil, fmt.Errorf("content %s: %w", key, remote.ErrNotFound)
		}
		if isInvalidRangeError(lastErr) {
			// Past the end of the object: the available suffix is empty.
			return nil, nil
		}
		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("FetchRange: transient error", "attempt", attempt+1, "key", objectKey, "offset", offset, "error", lastErr)
	}

	if lastErr != nil {
		err := fmt.Errorf("failed to read range after %d attempts: %w", s.maxRetries+1, lastErr)
		if isRetryableError(lastErr) {
			return nil, remote.Transient(err)
		}
		return nil, err
	}

	defer func() { _ = result.Body.Close() }()

	chunk, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, remote.Transient(fmt.Errorf("failed to read range body: %w", err))
	}
	return chunk, nil
}

// ContentSize reports the payload size via a HEAD request.
func (s *Source) ContentSize(ctx context.Context, key content.Key) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := key.Validate(); err != nil {
		return 0, err
	}

	objectKey := s.objectKey(key)

	var result *s3.HeadObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("ContentSize: retrying", "attempt", attempt, "max_retries", s.maxRetries, "key", objectKey)
			if err := s.backoff.Sleep(ctx, attempt); err != nil {
				return 0, err
			}
		}

		result, lastErr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		})
		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return 0, fmt.Errorf("content %s: %w", key, remote.ErrNotFound)
		}
		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("ContentSize: transient error", "attempt", attempt+1, "key", objectKey, "error", lastErr)
	}

	if lastErr != nil {
		err := fmt.Errorf("failed to head object after %d attempts: %w", s.maxRetries+1, lastErr)
		if isRetryableError(lastErr) {
			return 0, remote.Transient(err)
		}
		return 0, err
	}

	if result.ContentLength == nil {
		return 0, fmt.Errorf("content length not available for %s", key)
	}
	return *result.ContentLength, nil
}
