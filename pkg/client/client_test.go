package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/0neda/trackify/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:8080", "")
	if c.BaseURL != "http://localhost:8080" || c.Token != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:8080", "tok")
	if c2.Token != "tok" {
		t.Errorf("New with token: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	ok, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error from 503")
	}
}

func TestClient_setsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "mytoken")
	_, _ = c.ListTasks(context.Background())
	if gotAuth != "Bearer mytoken" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"issued","user":{"user_id":1,"username":"alice"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	out, err := c.Login(context.Background(), "alice", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if out.User.Username != "alice" {
		t.Errorf("user = %+v", out.User)
	}
	if c.Token != "issued" {
		t.Errorf("token not stored: %q", c.Token)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"only the creator of task 1 may do this"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.DeleteTask(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "api DELETE /api/tasks/1: only the creator of task 1 may do this" {
		t.Errorf("error = %q", got)
	}
}

func TestUpdateTaskSendsOnlySetFields(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/tasks/7" {
			t.Errorf("request: %s %s", r.Method, r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":7,"title":"t","status":"DONE"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.UpdateTask(context.Background(), 7, models.UpdateTaskRequest{
		Status:  models.Some("DONE"),
		DueDate: models.Null[string](),
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if string(gotBody) != `{"due_date":null,"status":"DONE"}` {
		t.Errorf("body = %s, want only the set fields", gotBody)
	}
}
