package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"

	"go.uber.org/zap"
)

// Client pushes outbound messages to the chat platform's REST API.
type Client struct {
	logger    *zap.Logger
	http      *http.Client
	baseURL   string
	accountID string
	apiToken  string
}

// NewClient creates a chat-platform client from configuration
func NewClient(logger *zap.Logger, cfg *config.PlatformConfig) *Client {
	return &Client{
		logger:    logger.Named("platform"),
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		accountID: cfg.AccountID,
		apiToken:  cfg.APIToken,
	}
}

// outboundMessage is the chat platform's message creation payload.
type outboundMessage struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
}

// SendMessage posts an outgoing, public reply into the conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) error {
	payload, err := json.Marshal(outboundMessage{
		Content:     content,
		MessageType: cnst.MessageTypeOutgoing,
		Private:     false,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/accounts/%s/conversations/%d/messages",
		c.baseURL, c.accountID, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(cnst.HeaderAPIAccessToken, c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return errorx.NewUpstreamError("chat-platform", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errorx.NewUpstreamError("chat-platform", resp.StatusCode,
			fmt.Errorf("message push rejected: %s", body))
	}

	c.logger.Debug("message pushed",
		zap.Int64("conversation_id", conversationID),
		zap.Int("status", resp.StatusCode))
	return nil
}
