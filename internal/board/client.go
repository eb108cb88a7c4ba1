package board

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
)

// rpcRequest/rpcResponse implement the JSON-RPC 2.0 envelope spec.md §6
// requires. No ecosystem JSON-RPC client appears anywhere in the teacher
// or the rest of the retrieval pack (net/http + encoding/json is the
// pack's own idiom for talking to external HTTP APIs — see
// matrix/http_sender.go), so this wire layer is built directly on
// net/http the same way the teacher's own HTTP client code is.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

// Client is a Port implementation talking JSON-RPC 2.0 over HTTP with
// Basic auth (spec.md §6 Board JSON-RPC).
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	nextID     int
}

// NewClient constructs a board Client. timeout bounds a single RPC call
// (spec.md §5: "a single board call has an individual timeout").
func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
	}
}

func (c *Client) call(method string, params any, out any) error {
	c.nextID++
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID})
	if err != nil {
		return orcherrors.Wrapf(orcherrors.ConfigError, "board: marshal request %s: %w", method, err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: build request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: %s read body: %w", method, err)
	}

	if resp.StatusCode >= 500 {
		return orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: %s returned %d: %s", method, resp.StatusCode, compact(raw))
	}
	if resp.StatusCode >= 400 {
		return orcherrors.Wrapf(orcherrors.BoardConflict, "board: %s returned %d: %s", method, resp.StatusCode, compact(raw))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: %s invalid JSON-RPC envelope: %w", method, err)
	}
	if rpcResp.Error != nil {
		return orcherrors.Wrapf(orcherrors.BoardConflict, "board: %s rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: %s unmarshal result: %w", method, err)
	}
	return nil
}

func compact(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

type wireTask struct {
	ID          int      `json:"id"`
	Column      string   `json:"column"`
	Position    int      `json:"position"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (w wireTask) toTask() Task {
	return Task{
		ID:          w.ID,
		Column:      Column(w.Column),
		Position:    w.Position,
		Title:       w.Title,
		Description: w.Description,
		Tags:        w.Tags,
	}
}

// ListTasks lists tasks across the given columns.
func (c *Client) ListTasks(columns []Column) ([]Task, error) {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = string(col)
	}

	var wire []wireTask
	if err := c.call("listTasksByColumn", map[string]any{"columns": names}, &wire); err != nil {
		return nil, err
	}
	tasks := make([]Task, len(wire))
	for i, w := range wire {
		tasks[i] = w.toTask()
	}
	return tasks, nil
}

// GetTask fetches a single task by id (used by children to build prompts).
func (c *Client) GetTask(id int) (Task, error) {
	var w wireTask
	if err := c.call("getTask", map[string]any{"id": id}, &w); err != nil {
		return Task{}, err
	}
	return w.toTask(), nil
}

// MoveTask moves a task to column. Idempotent: moving to the current
// column is a no-op from the caller's perspective.
func (c *Client) MoveTask(id int, column Column) error {
	return c.call("moveTaskToColumn", map[string]any{"id": id, "column": string(column)}, nil)
}

// SetPosition sets a task's position within its column.
func (c *Client) SetPosition(id int, pos int) error {
	return c.call("setTaskPosition", map[string]any{"id": id, "position": pos}, nil)
}

// AddTag converges the tag set to include tag.
func (c *Client) AddTag(id int, tag string) error {
	return c.call("addTaskTag", map[string]any{"id": id, "tag": tag}, nil)
}

// RemoveTag converges the tag set to exclude tag.
func (c *Client) RemoveTag(id int, tag string) error {
	return c.call("removeTaskTag", map[string]any{"id": id, "tag": tag}, nil)
}

// SetTags replaces the full tag set in one convergent call.
func (c *Client) SetTags(id int, tags []string) error {
	return c.call("setTaskTags", map[string]any{"id": id, "tags": tags}, nil)
}

// PostComment appends a markdown comment to the task.
func (c *Client) PostComment(id int, markdown string) error {
	return c.call("createComment", map[string]any{"id": id, "comment": markdown}, nil)
}

// CreateTask creates a new task card and returns its id.
func (c *Client) CreateTask(column Column, title, description string, tags []string) (int, error) {
	var result struct {
		ID any `json:"id"`
	}
	params := map[string]any{
		"column":      string(column),
		"title":       title,
		"description": description,
		"tags":        tags,
	}
	if err := c.call("createTask", params, &result); err != nil {
		return 0, err
	}
	switch v := result.ID.(type) {
	case float64:
		return int(v), nil
	case string:
		id, err := strconv.Atoi(v)
		if err != nil {
			return 0, orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: createTask returned non-numeric id %q", v)
		}
		return id, nil
	default:
		return 0, orcherrors.Wrapf(orcherrors.BoardUnavailable, "board: createTask returned no id")
	}
}

var _ Port = (*Client)(nil)
