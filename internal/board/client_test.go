package board

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
)

type fakeRoundTripper func(*http.Request) (*http.Response, error)

func (f fakeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt fakeRoundTripper) *Client {
	t.Helper()
	c := NewClient("http://board.local/rpc", "svc-user", "svc-pass", time.Second)
	c.httpClient = &http.Client{Transport: rt}
	return c
}

func TestClientListTasksSendsBasicAuthAndDecodesResult(t *testing.T) {
	var gotAuthUser, gotAuthPass string
	var gotMethod string
	var gotBody map[string]any

	rt := fakeRoundTripper(func(req *http.Request) (*http.Response, error) {
		var ok bool
		gotAuthUser, gotAuthPass, ok = req.BasicAuth()
		if !ok {
			t.Fatalf("expected basic auth header")
		}
		defer req.Body.Close()
		_ = json.NewDecoder(req.Body).Decode(&gotBody)
		gotMethod, _ = gotBody["method"].(string)

		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body: io.NopCloser(strings.NewReader(
				`{"jsonrpc":"2.0","id":1,"result":[{"id":7,"column":"Ready","position":0,"title":"t","tags":["x"]}]}`,
			)),
			Request: req,
		}, nil
	})

	c := newTestClient(t, rt)
	tasks, err := c.ListTasks([]Column{Ready, WIP})
	if err != nil {
		t.Fatalf("ListTasks returned error: %v", err)
	}
	if gotAuthUser != "svc-user" || gotAuthPass != "svc-pass" {
		t.Fatalf("basic auth = %q/%q, want svc-user/svc-pass", gotAuthUser, gotAuthPass)
	}
	if gotMethod != "listTasksByColumn" {
		t.Fatalf("rpc method = %q, want listTasksByColumn", gotMethod)
	}
	if len(tasks) != 1 || tasks[0].ID != 7 || tasks[0].Column != Ready {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestClientCallMapsServerErrorToBoardUnavailable(t *testing.T) {
	rt := fakeRoundTripper(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader(`upstream down`)),
			Request:    req,
		}, nil
	})

	c := newTestClient(t, rt)
	err := c.MoveTask(1, Done)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !orcherrors.As(err, orcherrors.BoardUnavailable) {
		t.Fatalf("expected BoardUnavailable, got %v", err)
	}
}

func TestClientCallMapsClientErrorToBoardConflict(t *testing.T) {
	rt := fakeRoundTripper(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusConflict,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader(`{"error":"stale position"}`)),
			Request:    req,
		}, nil
	})

	c := newTestClient(t, rt)
	err := c.SetPosition(1, 3)
	if !orcherrors.As(err, orcherrors.BoardConflict) {
		t.Fatalf("expected BoardConflict, got %v", err)
	}
}

func TestClientCallMapsRPCErrorToBoardConflict(t *testing.T) {
	rt := fakeRoundTripper(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body: io.NopCloser(strings.NewReader(
				`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"no such task"}}`,
			)),
			Request: req,
		}, nil
	})

	c := newTestClient(t, rt)
	_, err := c.GetTask(999)
	if !orcherrors.As(err, orcherrors.BoardConflict) {
		t.Fatalf("expected BoardConflict, got %v", err)
	}
}

func TestClientCreateTaskParsesNumericAndStringIDs(t *testing.T) {
	for _, body := range []string{
		`{"jsonrpc":"2.0","id":1,"result":{"id":42}}`,
		`{"jsonrpc":"2.0","id":1,"result":{"id":"42"}}`,
	} {
		rt := fakeRoundTripper(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     make(http.Header),
				Body:       io.NopCloser(strings.NewReader(body)),
				Request:    req,
			}, nil
		})
		c := newTestClient(t, rt)
		id, err := c.CreateTask(Backlog, "title", "desc", nil)
		if err != nil {
			t.Fatalf("CreateTask returned error: %v", err)
		}
		if id != 42 {
			t.Fatalf("CreateTask id = %d, want 42", id)
		}
	}
}
