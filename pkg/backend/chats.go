package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"agentflow/pkg/cache"
	"agentflow/services/chat"
	"agentflow/services/tool"
)

var _ chat.Backend = (*Client)(nil)

func (c *Client) ListChats(ctx context.Context) ([]chat.Chat, error) {
	var out []chat.Chat
	if err := c.list(ctx, "/chats", cache.Chats, &out); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return out, nil
}

func (c *Client) CreateChat(ctx context.Context, nc chat.NewChat) (*chat.Chat, error) {
	var out chat.Chat
	if err := c.doJSON(ctx, http.MethodPost, "/chats", nc, &out); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &out, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID int) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d", chatID), nil, nil); err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	return nil
}

func (c *Client) ListMessages(ctx context.Context, chatID int) ([]chat.Message, error) {
	var out []chat.Message
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/chats/%d/messages", chatID), nil, &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// postResult is the reply to a message post. A 2xx reply may still carry
// an error field.
type postResult struct {
	Error string `json:"error,omitempty"`
}

func (c *Client) PostMessage(ctx context.Context, chatID int, m chat.Outgoing) error {
	return c.post(ctx, fmt.Sprintf("/chats/%d/messages", chatID), m)
}

func (c *Client) SupplyInput(ctx context.Context, chatID int, m chat.Outgoing) error {
	return c.post(ctx, fmt.Sprintf("/chats/%d/input", chatID), m)
}

func (c *Client) post(ctx context.Context, path string, m chat.Outgoing) error {
	var res postResult
	if err := c.doJSON(ctx, http.MethodPost, path, m, &res); err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return nil
}

func (c *Client) Abort(ctx context.Context, chatID int) (*chat.AbortResult, error) {
	var out chat.AbortResult
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/abort", chatID), nil, &out); err != nil {
		return nil, fmt.Errorf("abort chat %d: %w", chatID, err)
	}
	return &out, nil
}

func (c *Client) ClearMessages(ctx context.Context, chatID int) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d/messages", chatID), nil, nil); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadAttachment sends u as a multipart form with "file" and "title" parts.
func (c *Client) UploadAttachment(ctx context.Context, u tool.Upload) (*tool.Attachment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(u.Filename)))
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(u.Data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := w.WriteField("title", u.Filename); err != nil {
		return nil, fmt.Errorf("write title: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	var out tool.Attachment
	if err := c.do(ctx, http.MethodPost, "/tools/attachments", &buf, w.FormDataContentType(), &out); err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	return &out, nil
}
