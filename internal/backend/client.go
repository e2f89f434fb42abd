// Package backend talks to the emulator server that owns the running game.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient returns a client for the server at baseURL. No timeout is set:
// a slow emulator delays its caller rather than failing it.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default().With("component", "backend"),
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

func statusError(op string, resp *http.Response) *APIError {
	return &APIError{
		Op:      op,
		Status:  resp.StatusCode,
		Message: "Backend error: " + http.StatusText(resp.StatusCode),
	}
}

// messageError reads a {"message": "..."} body, falling back to the status
// text and then to fallback.
func messageError(op string, resp *http.Response, fallback string) *APIError {
	var body struct {
		Message string `json:"message"`
	}
	msg := http.StatusText(resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		msg = body.Message
	}
	if msg == "" {
		msg = fallback
	}
	return &APIError{Op: op, Status: resp.StatusCode, Message: msg}
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Screen fetches the current frame.
func (c *Client) Screen(ctx context.Context) (models.Screen, error) {
	const op = "fetch screen"
	resp, err := c.do(ctx, http.MethodGet, "/screen", "", nil)
	if err != nil {
		return models.Screen{}, translateError(err, op)
	}
	defer resp.Body.Close()

	if !ok(resp) {
		return models.Screen{}, statusError(op, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Screen{}, translateError(err, op)
	}
	return models.Screen{Data: data, MIMEType: resp.Header.Get("Content-Type")}, nil
}

// SendAction presses one button. Failures are logged and otherwise ignored.
func (c *Client) SendAction(ctx context.Context, action models.GameAction) {
	const op = "send action"
	payload, _ := json.Marshal(struct {
		Action models.GameAction `json:"action"`
	}{action})

	resp, err := c.do(ctx, http.MethodPost, "/action", "application/json", bytes.NewReader(payload))
	if err != nil {
		c.logger.Warn("action not delivered", "action", action, "error", translateError(err, op))
		return
	}
	defer resp.Body.Close()
	if !ok(resp) {
		c.logger.Warn("action rejected", "action", action, "error", statusError(op, resp))
	}
}

// Party fetches the party roster, or an empty roster if that fails.
func (c *Client) Party(ctx context.Context) []models.PartyMember {
	const op = "fetch party data"
	party := []models.PartyMember{}
	if err := c.getJSON(ctx, op, "/party", &party); err != nil {
		c.logger.Warn("party unavailable", "error", err)
		return []models.PartyMember{}
	}
	return party
}

// GameState fetches the full snapshot. When the backend cannot provide one it
// returns models.DefaultGameState and false.
func (c *Client) GameState(ctx context.Context) (models.GameState, bool) {
	const op = "fetch game state"
	var state models.GameState
	if err := c.getJSON(ctx, op, "/state", &state); err != nil {
		c.logger.Warn("game state unavailable", "error", err)
		return models.DefaultGameState(), false
	}
	return state, true
}

func (c *Client) getJSON(ctx context.Context, op, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return translateError(err, op)
	}
	defer resp.Body.Close()

	if !ok(resp) {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

// LoadROM uploads a ROM image as the multipart field "rom".
func (c *Client) LoadROM(ctx context.Context, filename string, rom io.Reader) error {
	const op = "upload ROM"
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("rom", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, rom); err != nil {
		return fmt.Errorf("failed to read ROM: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/load_rom", w.FormDataContentType(), &buf)
	if err != nil {
		return translateError(err, op)
	}
	defer resp.Body.Close()
	if !ok(resp) {
		return messageError(op, resp, "Failed to load ROM on backend.")
	}
	return nil
}

// SaveState asks the emulator to snapshot itself.
func (c *Client) SaveState(ctx context.Context) error {
	return c.post(ctx, "save state", "/save_state", "Failed to save state on backend.")
}

// LoadState restores the last emulator snapshot.
func (c *Client) LoadState(ctx context.Context) error {
	return c.post(ctx, "load state", "/load_state", "Failed to load state on backend.")
}

func (c *Client) post(ctx context.Context, op, path, fallback string) error {
	resp, err := c.do(ctx, http.MethodPost, path, "", nil)
	if err != nil {
		return translateError(err, op)
	}
	defer resp.Body.Close()
	if !ok(resp) {
		return messageError(op, resp, fallback)
	}
	return nil
}
