package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/voxbiblia/ark/pkg/remote"
)

type applyResponse struct {
	Outcome string              `json:"outcome"`
	Remote  *remote.EntityState `json:"remote,omitempty"`
}

// Apply submits one sync operation. The operation id travels both in the
// body and as the Idempotency-Key header so intermediaries can deduplicate
// retried submissions before they reach the application.
func (c *Client) Apply(ctx context.Context, op remote.SyncOperation) (remote.ApplyResult, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return remote.ApplyResult{}, fmt.Errorf("failed to marshal operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sync/operations", bytes.NewReader(data))
	if err != nil {
		return remote.ApplyResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", op.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remote.ApplyResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.ApplyResult{}, remote.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var envelope applyResponse
		if err := json.Unmarshal(body, &envelope); err != nil {
			return remote.ApplyResult{}, fmt.Errorf("failed to decode response: %w", err)
		}
		switch envelope.Outcome {
		case "applied", "":
			return remote.ApplyResult{Outcome: remote.OutcomeApplied}, nil
		case "alreadyApplied":
			return remote.ApplyResult{Outcome: remote.OutcomeAlreadyApplied}, nil
		default:
			return remote.ApplyResult{}, fmt.Errorf("unexpected apply outcome %q", envelope.Outcome)
		}
	case http.StatusConflict:
		var envelope applyResponse
		if err := json.Unmarshal(body, &envelope); err != nil {
			return remote.ApplyResult{}, fmt.Errorf("failed to decode conflict response: %w", err)
		}
		if envelope.Remote == nil {
			return remote.ApplyResult{}, fmt.Errorf("conflict response for %s carries no remote state", op.ID)
		}
		return remote.ApplyResult{Outcome: remote.OutcomeConflict, Remote: envelope.Remote}, nil
	default:
		return remote.ApplyResult{}, errorFromResponse(resp.StatusCode, body)
	}
}
