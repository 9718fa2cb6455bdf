package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/driftlab/driftmsg/internal/client/state"
)

// Client talks to the REST collaborators the sync layer depends on:
// conversation list, message history, find-or-create, user search and image
// upload. The transport events ride on a separate websocket session.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

type LoginResult struct {
	Token string            `json:"token"`
	User  state.Participant `json:"user"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/api/login", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

func (c *Client) Register(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/api/register", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Conversations is the bulk fetch at session start. The server returns the
// list most-recent-activity first.
func (c *Client) Conversations(ctx context.Context) ([]state.Conversation, error) {
	var out []state.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches a conversation's history, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]state.Message, error) {
	var out []state.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindOrCreateConversation is idempotent: if a conversation with that peer
// already exists the server returns it instead of creating a duplicate.
func (c *Client) FindOrCreateConversation(ctx context.Context, peerID string) (state.Conversation, error) {
	var out state.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", map[string]string{
		"peer_id": peerID,
	}, &out)
	return out, err
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]state.Participant, error) {
	var out []state.Participant
	path := "/api/users/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadImage sends the file to the storage collaborator and returns the
// attachment descriptor to put on the outbound message.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (state.Attachment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return state.Attachment{}, err
	}
	if _, err := part.Write(data); err != nil {
		return state.Attachment{}, err
	}
	if err := w.Close(); err != nil {
		return state.Attachment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload", &buf)
	if err != nil {
		return state.Attachment{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	var out state.Attachment
	if err := c.send(req, &out); err != nil {
		return state.Attachment{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return c.send(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
