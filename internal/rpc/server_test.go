package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/xiy/tiermem/internal/config"
	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/memory"
)

func testServer(t *testing.T, emitter events.Emitter) *Server {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	mgr, err := memory.NewManager(config.Default(), logger, emitter, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return NewServer(mgr, "tiermem", logger, emitter)
}

func TestHandle_ToolsList(t *testing.T) {
	t.Parallel()
	srv := testServer(t, nil)

	id := json.RawMessage(`1`)
	resp, ok := srv.handle(context.Background(), request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/list",
	})
	if !ok {
		t.Fatal("expected response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	tools, ok := result["tools"].([]ToolDefinition)
	if !ok || len(tools) != 7 {
		t.Fatalf("expected 7 tool definitions, got %v", result["tools"])
	}
}

func TestReadWriteFramedMessage(t *testing.T) {
	t.Parallel()
	resp := response{JSONRPC: "2.0", ID: 1, Result: map[string]any{"ok": true}}
	var payloadBuf bytes.Buffer
	bw := bufio.NewWriter(&payloadBuf)
	if err := writeFramedMessage(bw, resp); err != nil {
		t.Fatalf("writeFramedMessage() error = %v", err)
	}
	br := bufio.NewReader(bytes.NewReader(payloadBuf.Bytes()))
	payload, err := readFramedMessage(br)
	if err != nil {
		t.Fatalf("readFramedMessage() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got["jsonrpc"] != "2.0" {
		t.Fatalf("expected jsonrpc 2.0, got %v", got["jsonrpc"])
	}
}

func TestReadMessage_JSONLine(t *testing.T) {
	t.Parallel()
	raw := []byte("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n")
	br := bufio.NewReader(bytes.NewReader(raw))

	payload, mode, err := readMessage(br)
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if mode != wireModeJSONLine {
		t.Fatalf("expected JSON-line mode, got %v", mode)
	}

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("json.Unmarshal(payload) error = %v", err)
	}
	if req.Method != "ping" {
		t.Fatalf("expected method ping, got %q", req.Method)
	}
}

func TestServe_JSONLineInitialize(t *testing.T) {
	t.Parallel()
	srv := testServer(t, nil)

	in := bytes.NewBufferString("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"initialize\",\"params\":{\"protocolVersion\":\"2024-11-05\"}}\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	line := bytes.TrimSpace(out.Bytes())
	if len(line) == 0 {
		t.Fatal("expected JSON-line response, got empty output")
	}
	if bytes.Contains(line, []byte("Content-Length:")) {
		t.Fatalf("expected JSON-line response, got framed output: %q", string(line))
	}

	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("json.Unmarshal(response) error = %v", err)
	}
	if resp["jsonrpc"] != "2.0" {
		t.Fatalf("expected jsonrpc 2.0, got %v", resp["jsonrpc"])
	}
}

func TestHandle_StoreThenRecallRoundTrip(t *testing.T) {
	t.Parallel()
	srv := testServer(t, nil)
	ctx := context.Background()

	storeReq := request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"memory_store","arguments":{"session_id":"s1","type":"fact","data":{"note":"uses postgres"},"importance":0.7}}`),
	}
	resp, ok := srv.handle(ctx, storeReq)
	if !ok || resp.Error != nil {
		t.Fatalf("memory_store response = %+v", resp)
	}
	result := resp.Result.(map[string]any)
	if isError, _ := result["isError"].(bool); isError {
		t.Fatalf("memory_store failed: %v", result["content"])
	}

	recallReq := request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"memory_recall","arguments":{"session_id":"s1","keywords":["postgres"]}}`),
	}
	resp, ok = srv.handle(ctx, recallReq)
	if !ok || resp.Error != nil {
		t.Fatalf("memory_recall response = %+v", resp)
	}
	result = resp.Result.(map[string]any)
	if isError, _ := result["isError"].(bool); isError {
		t.Fatalf("memory_recall failed: %v", result["content"])
	}
	structured := result["structuredContent"].(map[string]any)
	if structured["count"] != 1 {
		t.Fatalf("recall count = %v, want 1", structured["count"])
	}
}

func TestHandle_UnknownToolIsToolError(t *testing.T) {
	t.Parallel()
	srv := testServer(t, nil)

	resp, ok := srv.handle(context.Background(), request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"memory_forget","arguments":{}}`),
	})
	if !ok {
		t.Fatal("expected response")
	}
	result := resp.Result.(map[string]any)
	if isError, _ := result["isError"].(bool); !isError {
		t.Fatal("expected isError for unknown tool")
	}
}

func TestServe_EmitsRequestEvents(t *testing.T) {
	t.Parallel()
	ring := events.NewRing(8)
	srv := testServer(t, ring)

	in := bytes.NewBufferString("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"tools/call\",\"params\":{\"name\":\"session_stats\",\"arguments\":{\"session_id\":\"\"}}}\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	var found *events.RequestPayload
	for _, ev := range ring.Recent(8) {
		if ev.Type != events.TypeRPCRequest {
			continue
		}
		payload := ev.Data.(events.RequestPayload)
		found = &payload
		break
	}
	if found == nil {
		t.Fatal("expected an rpc.request event")
	}
	if found.Method != "tools/call" || found.ToolName != "session_stats" {
		t.Fatalf("request payload = %+v", found)
	}
	if found.Success {
		t.Fatal("expected failure for blank session_id")
	}
	if found.ErrorText == "" {
		t.Fatal("expected non-empty error text")
	}
}
