// Package resourcelink is a narrow client for the resource-link service,
// which records typed links between objects. The chat service only ever asks
// one question of it: does a star link exist from a member to a message.
package resourcelink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openpaas/chat-service/internal/model"
)

const linkTypeStar = "star"

// Client queries the resource-link HTTP API.
type Client struct {
	base string
	http *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

type linkQueryResponse struct {
	Exists bool `json:"exists"`
}

// IsStarred reports whether memberID has a star link to messageID.
func (c *Client) IsStarred(ctx context.Context, memberID, messageID string) (bool, error) {
	q := url.Values{}
	q.Set("type", linkTypeStar)
	q.Set("sourceObjectType", model.ObjectTypeUser)
	q.Set("sourceId", memberID)
	q.Set("targetObjectType", "chat.message")
	q.Set("targetId", messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/resource-links/exists?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build resource-link request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("resource-link request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("resource-link service returned status %d", resp.StatusCode)
	}

	var out linkQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode resource-link response: %w", err)
	}
	return out.Exists, nil
}

// Noop is the star checker used when no resource-link service is configured;
// every message reads as unstarred.
type Noop struct{}

func (Noop) IsStarred(ctx context.Context, memberID, messageID string) (bool, error) {
	return false, nil
}
