// internal/line/push.go
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.line.me/v2/bot"

var (
	// ErrRateLimited means the provider returned 429. The caller should
	// pause and retry the same recipient; this is not a delivery failure.
	ErrRateLimited = errors.New("line: rate limited")
	// ErrInvalidRecipient means the provider rejected the recipient
	// identity. Terminal for that recipient; retrying cannot succeed.
	ErrInvalidRecipient = errors.New("line: invalid recipient")
)

// PushSender is the single push-delivery primitive. The dispatcher, the
// step advancer and the auto-reply pipeline all send through it.
type PushSender interface {
	Push(ctx context.Context, to string, messages []Message) error
}

type PushClient struct {
	AccessToken string
	APIBase     string
	HTTPClient  *http.Client
}

func NewPushClient(accessToken string) *PushClient {
	return &PushClient{
		AccessToken: accessToken,
		APIBase:     defaultAPIBase,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type pushRequest struct {
	To       string            `json:"to"`
	Messages []json.RawMessage `json:"messages"`
}

type apiError struct {
	Message string `json:"message"`
}

// Push sends messages to one recipient via the push endpoint.
func (c *PushClient) Push(ctx context.Context, to string, messages []Message) error {
	raws := make([]json.RawMessage, 0, len(messages))
	for _, m := range messages {
		raw, err := MarshalMessage(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		raws = append(raws, raw)
	}

	body, err := json.Marshal(pushRequest{To: to, Messages: raws})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+"/message/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	_ = json.Unmarshal(respBody, &apiErr)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && strings.Contains(apiErr.Message, "Invalid") {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, apiErr.Message)
	}

	if apiErr.Message != "" {
		return fmt.Errorf("line push failed: %s (status %d)", apiErr.Message, resp.StatusCode)
	}
	return fmt.Errorf("line push failed: status %d", resp.StatusCode)
}
