package api

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"chat-client/internal/config"
)

// HTTPClient talks to the chat backend's REST surface. The resty client
// keeps a cookie jar so session cookies ride along on every request.
type HTTPClient struct {
	http *resty.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg config.APIConfig) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json")

	return &HTTPClient{http: client}
}

func (c *HTTPClient) RoomsByUser(ctx context.Context) ([]Room, error) {
	var out roomsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		SetResult(&out).
		Post("/rooms/by-user")
	if err != nil {
		return nil, errors.Wrap(err, "request rooms")
	}
	if resp.IsError() {
		return nil, errors.Errorf("rooms request failed: %s", resp.Status())
	}
	return out.Data, nil
}

func (c *HTTPClient) MessagesByRoom(ctx context.Context, roomID string) ([]Message, error) {
	var out messagesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"roomId": roomID}).
		SetResult(&out).
		Post("/messages/by-room")
	if err != nil {
		return nil, errors.Wrapf(err, "request messages for room %s", roomID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("messages request for room %s failed: %s", roomID, resp.Status())
	}
	return out.Data, nil
}

func (c *HTTPClient) PresignedDownload(ctx context.Context, fileURL string) (string, error) {
	var out presignedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"fileUrl": fileURL}).
		SetResult(&out).
		Post("/presigned/download")
	if err != nil {
		return "", errors.Wrap(err, "request presigned url")
	}
	if resp.IsError() {
		return "", errors.Errorf("presigned request failed: %s", resp.Status())
	}
	if out.URL == "" {
		return "", errors.New("no presigned url in response")
	}
	return out.URL, nil
}

// Fetch retrieves raw content from an absolute URL, typically a presigned
// object-store link.
func (c *HTTPClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "fetch content")
	}
	if resp.IsError() {
		return nil, errors.Errorf("content fetch failed: %s", resp.Status())
	}
	return resp.Body(), nil
}

func (c *HTTPClient) UserTemp(ctx context.Context) (string, error) {
	var out userTempResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/user-temp")
	if err != nil {
		return "", errors.Wrap(err, "request user temp id")
	}
	if resp.IsError() {
		return "", errors.Errorf("user temp request failed: %s", resp.Status())
	}
	if out.UserTempID == "" {
		return "", errors.New("userTempId not received from server")
	}
	return out.UserTempID, nil
}
