// Package client keeps a local copy of a user's conversations
// consistent with the server. A sent turn shows up locally before the
// server confirms it; on failure the optimistic turn is marked failed
// instead of being presented as answered.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Message is the client's copy of one turn. Failed marks an
// optimistic user turn whose send did not complete.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Failed    bool      `json:"-"`
}

// Conversation is the client's copy of one conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// APIError is a server failure with its stable kind.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// Client calls the chat API and mirrors its state locally.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu     sync.Mutex
	chats  map[string]*Conversation
	active string
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 90 * time.Second},
		chats:   map[string]*Conversation{},
	}
}

// Refresh replaces the local state with the server's session view and
// seeds the active selection from it.
func (c *Client) Refresh(ctx context.Context) error {
	var session struct {
		Chats        []Conversation `json:"chats"`
		ActiveChatID string         `json:"activeChatId"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/session", nil, &session); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = make(map[string]*Conversation, len(session.Chats))
	for i := range session.Chats {
		conv := session.Chats[i]
		c.chats[conv.ID] = &conv
	}
	c.active = session.ActiveChatID
	return nil
}

// ActiveID returns the current selection, which is client-local state.
func (c *Client) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Select changes the local selection.
func (c *Client) Select(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chats[chatID]; ok {
		c.active = chatID
	}
}

// Conversation returns a snapshot of the local copy.
func (c *Client) Conversation(chatID string) (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.chats[chatID]
	if !ok {
		return Conversation{}, false
	}
	snapshot := *conv
	snapshot.Messages = append([]Message(nil), conv.Messages...)
	return snapshot, true
}

// Create makes a new conversation and selects it.
func (c *Client) Create(ctx context.Context, name string) (Conversation, error) {
	var conv Conversation
	body := map[string]string{}
	if name != "" {
		body["name"] = name
	}
	if err := c.do(ctx, http.MethodPost, "/v1/chats", body, &conv); err != nil {
		return Conversation{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	stored := conv
	c.chats[conv.ID] = &stored
	c.active = conv.ID
	return conv, nil
}

// Rename updates the conversation's name locally once the server
// confirms it.
func (c *Client) Rename(ctx context.Context, chatID, name string) error {
	var conv Conversation
	if err := c.do(ctx, http.MethodPatch, "/v1/chats/"+chatID, map[string]string{"name": name}, &conv); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if local, ok := c.chats[chatID]; ok {
		local.Name = conv.Name
		local.UpdatedAt = conv.UpdatedAt
	}
	return nil
}

// Delete removes the conversation locally once the server confirms.
func (c *Client) Delete(ctx context.Context, chatID string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/chats/"+chatID, nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chats, chatID)
	if c.active == chatID {
		c.active = ""
	}
	return nil
}

// Send applies the user turn optimistically, posts it, and reconciles:
// on success the optimistic turn is confirmed and the assistant reply
// appended; on failure the turn is marked failed and the typed error
// returned. A failed turn is never shown as answered.
func (c *Client) Send(ctx context.Context, chatID, prompt string) (Message, error) {
	c.mu.Lock()
	conv, ok := c.chats[chatID]
	if !ok {
		c.mu.Unlock()
		return Message{}, &APIError{Kind: "not_found", Message: "unknown conversation", Status: 0}
	}
	conv.Messages = append(conv.Messages, Message{
		Role:      "user",
		Content:   prompt,
		Timestamp: time.Now(),
	})
	pending := len(conv.Messages) - 1
	c.mu.Unlock()

	var assistant Message
	err := c.do(ctx, http.MethodPost, "/v1/chats/"+chatID+"/messages", map[string]string{"prompt": prompt}, &assistant)

	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok = c.chats[chatID]
	if !ok || pending >= len(conv.Messages) {
		return assistant, err
	}
	if err != nil {
		conv.Messages[pending].Failed = true
		return Message{}, err
	}
	conv.Messages = append(conv.Messages, assistant)
	conv.UpdatedAt = assistant.Timestamp
	return assistant, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("malformed server response: %w", err)
	}
	if !env.Success {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Kind: "unknown", Message: "request failed"}
		}
		apiErr.Status = res.StatusCode
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("malformed server response: %w", err)
		}
	}
	return nil
}
