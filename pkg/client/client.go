// Package client provides a Go SDK for the Trackify HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/0neda/trackify/pkg/models"
)

// Client calls the Trackify HTTP API. It is safe for concurrent use once
// the token is set.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:8080"
	Token      string       // bearer token; Login and Register set it
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:8080").
// Token is optional; Register and Login fill it in.
func New(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns true when the server reports status ok.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var out models.HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.Status == "ok", err
}

// Register creates an account and stores its token on the client.
func (c *Client) Register(ctx context.Context, username, password string, email *string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", models.RegisterRequest{
		Username: username, Password: password, Email: email,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.Token = out.Token
	return &out, nil
}

// Login authenticates and stores the token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{
		Username: username, Password: password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.Token = out.Token
	return &out, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &out)
	return &out, err
}

// ListUsers returns all registered users.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, &out)
	return out, err
}

// ListTasks returns every task the user created or was granted access to.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, "/api/tasks", nil, &out)
	return out, err
}

// CreateTask creates a task and returns it.
func (c *Client) CreateTask(ctx context.Context, req models.CreateTaskRequest) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/api/tasks", req, &out)
	return &out, err
}

// GetTask returns one task with its grants and dependency edges.
func (c *Client) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/tasks/%d", taskID), nil, &out)
	return &out, err
}

// UpdateTask applies a partial update and returns the task.
func (c *Client) UpdateTask(ctx context.Context, taskID int64, req models.UpdateTaskRequest) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", taskID), req, &out)
	return &out, err
}

// DeleteTask deletes a task. Creator only.
func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", taskID), nil, nil)
}

// GrantAccess grants view or edit to another user on a task.
func (c *Client) GrantAccess(ctx context.Context, taskID int64, req models.GrantAccessRequest) (*models.TaskAccess, error) {
	var out models.TaskAccess
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/access", taskID), req, &out)
	return &out, err
}

// RevokeAccess removes a user's grant on a task.
func (c *Client) RevokeAccess(ctx context.Context, taskID, userID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d/access/%d", taskID, userID), nil, nil)
}

// AddDependencies marks the task as depending on each listed task and
// returns the updated task. The batch is all-or-nothing.
func (c *Client) AddDependencies(ctx context.Context, taskID int64, dependsOn []int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/dependencies", taskID),
		models.AddDependenciesRequest{DependsOn: dependsOn}, &out)
	return &out, err
}

// RemoveDependency removes one dependency edge.
func (c *Client) RemoveDependency(ctx context.Context, taskID, dependsOnID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d/dependencies/%d", taskID, dependsOnID), nil, nil)
}
