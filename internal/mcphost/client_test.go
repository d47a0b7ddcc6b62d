package mcphost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestManifestURL_Derivation(t *testing.T) {
	cases := []struct{ endpoint, want string }{
		{"http://localhost:9000/", "http://localhost:9000/mcp/manifest"},
		{"http://localhost:9000", "http://localhost:9000/mcp/manifest"},
		{"http://localhost:9000/api/mcp/chat", "http://localhost:9000/mcp/manifest"},
		{"http://localhost:9000/mcp", "http://localhost:9000/mcp/manifest"},
		{"http://localhost:9000/mcp/", "http://localhost:9000/mcp/manifest"},
		{"http://localhost:9000/tools/rpc", "http://localhost:9000/tools/rpc/manifest"},
	}
	for _, c := range cases {
		if got := ManifestURL(c.endpoint); got != c.want {
			t.Fatalf("ManifestURL(%q): expected %q, got %q", c.endpoint, c.want, got)
		}
	}
}

func TestMergeTools_ListedOverridesManifest(t *testing.T) {
	manifest := []ToolDescriptor{
		{Name: "search", Description: "from manifest", InputSchema: map[string]any{
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		}},
		{Name: "manifest_only", Description: "stays"},
	}
	listed := []ToolDescriptor{
		{Name: "search", Description: "from list", InputSchema: map[string]any{
			"required": []any{"query"},
		}},
		{Name: "list_only", Description: "appended"},
		{Name: "", Description: "dropped"},
	}
	merged := MergeTools(manifest, listed)
	if len(merged) != 3 {
		t.Fatalf("expected 3 tools, got %d: %+v", len(merged), merged)
	}
	if merged[0].Name != "search" || merged[0].Description != "from list" {
		t.Fatalf("expected listed description to win, got %+v", merged[0])
	}
	if _, ok := merged[0].InputSchema["properties"]; !ok {
		t.Fatalf("expected manifest schema keys preserved, got %v", merged[0].InputSchema)
	}
	if _, ok := merged[0].InputSchema["required"]; !ok {
		t.Fatalf("expected listed schema keys merged, got %v", merged[0].InputSchema)
	}
	if merged[1].Name != "manifest_only" || merged[2].Name != "list_only" {
		t.Fatalf("unexpected merge order: %+v", merged)
	}
}

func TestMergeTools_LastWinsIsStable(t *testing.T) {
	manifest := []ToolDescriptor{{Name: "t", InputSchema: map[string]any{"a": 1.0, "b": 2.0}}}
	listed := []ToolDescriptor{{Name: "t", InputSchema: map[string]any{"b": 3.0}}}
	once := MergeTools(manifest, listed)
	twice := MergeTools(once, listed)
	if !reflect.DeepEqual(once[0].InputSchema, twice[0].InputSchema) {
		t.Fatalf("merge not stable: %v vs %v", once[0].InputSchema, twice[0].InputSchema)
	}
	if once[0].InputSchema["b"] != 3.0 {
		t.Fatalf("expected last-wins, got %v", once[0].InputSchema["b"])
	}
}

func TestToolDescriptor_TypedViews(t *testing.T) {
	tool := ToolDescriptor{Name: "rebuild_summary", InputSchema: map[string]any{
		"properties": map[string]any{
			"paths":       map[string]any{"type": "array"},
			"output_path": map[string]any{"type": "string"},
		},
		"required": []any{"paths", "output_path"},
	}}
	if !tool.HasProperty("paths") || tool.HasProperty("missing") {
		t.Fatalf("HasProperty misbehaved")
	}
	if !tool.RequiresKey("output_path") || tool.RequiresKey("paths2") {
		t.Fatalf("RequiresKey misbehaved")
	}
	if got := tool.Required(); !reflect.DeepEqual(got, []string{"paths", "output_path"}) {
		t.Fatalf("expected ordered required, got %v", got)
	}
	if tool.PropertyType("paths") != "array" {
		t.Fatalf("expected array type, got %q", tool.PropertyType("paths"))
	}
}

func TestCallResult_Normalisation(t *testing.T) {
	res := &CallResult{Status: 200, Result: map[string]any{
		"structuredContent": map[string]any{"ok": true},
		"content":           []any{map[string]any{"text": "hello"}, map[string]any{"text": "  "}},
	}}
	if res.Structured() == nil {
		t.Fatalf("expected structured content")
	}
	if texts := res.ContentTexts(); len(texts) != 1 || texts[0] != "hello" {
		t.Fatalf("expected single trimmed text, got %v", texts)
	}
	if !res.Successful() {
		t.Fatalf("expected success at 200")
	}
	errRes := &CallResult{Status: 502, Err: &RPCError{Code: -1, Message: "boom"}}
	if errRes.Successful() || errRes.ErrorMessage() != "boom" {
		t.Fatalf("error result misbehaved: %+v", errRes)
	}
}

func TestInitialize_LegacyOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	c := New("", time.Second, nil)
	init, err := c.Initialize(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !init.Legacy {
		t.Fatalf("expected legacy mode on 404")
	}
}

func TestInitialize_SurfacesHostMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "host is on fire"})
	}))
	defer srv.Close()
	c := New("", time.Second, nil)
	_, err := c.Initialize(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "host is on fire") {
		t.Fatalf("expected host message surfaced, got %v", err)
	}
}

func TestCall_JSONRPCErrorInResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32000, "message": "tool failed"},
		})
	}))
	defer srv.Close()
	c := New("", time.Second, nil)
	res, err := c.Call(context.Background(), srv.URL, "tools/call", nil)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if res.Err == nil || res.Err.Message != "tool failed" {
		t.Fatalf("expected rpc error, got %+v", res)
	}
	if res.Status < 400 {
		t.Fatalf("expected error status, got %d", res.Status)
	}
}

func TestCall_SendsBearerAndHeaders(t *testing.T) {
	var gotAuth, gotCT, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{}})
	}))
	defer srv.Close()
	c := New("sekrit", time.Second, nil)
	if _, err := c.Call(context.Background(), srv.URL, "initialize", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer sekrit" || gotCT != "application/json" || gotAccept != "application/json" {
		t.Fatalf("unexpected headers: auth=%q ct=%q accept=%q", gotAuth, gotCT, gotAccept)
	}
}

func TestLegacyChat_ParsesKnownKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["prompt"] != "안녕" {
			t.Errorf("expected prompt forwarded, got %v", body["prompt"])
		}
		if _, ok := body["conversation"]; !ok {
			t.Errorf("expected conversation forwarded")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "plain answer"})
	}))
	defer srv.Close()
	c := New("", time.Second, nil)
	status, answer, err := c.LegacyChat(context.Background(), srv.URL, "안녕", []Turn{{Role: "user", Text: "이전"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 || answer != "plain answer" {
		t.Fatalf("unexpected legacy reply: %d %q", status, answer)
	}
}

func TestFetchManifest_NonFatalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	c := New("", time.Second, nil)
	mc := c.FetchManifest(context.Background(), srv.URL)
	if mc.OK || !mc.ManifestAttempt || mc.Error == "" {
		t.Fatalf("expected recorded failure, got %+v", mc)
	}
}

func TestListTools_DropsUnnamed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"result": map[string]any{"tools": []any{
				map[string]any{"name": "search"},
				map[string]any{"description": "nameless"},
			}},
		})
	}))
	defer srv.Close()
	c := New("", time.Second, nil)
	tools, status, err := c.ListTools(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 || len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("unexpected tools: %v (%d)", tools, status)
	}
}
