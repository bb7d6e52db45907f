package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tessellate-ai/atelier/internal/store"
)

// toolHTTPTimeout bounds a single remote tool invocation.
const toolHTTPTimeout = 30 * time.Second

// maxToolResponseBytes caps how much of a tool response is fed back to
// the model.
const maxToolResponseBytes = 64 << 10

// invokeTool executes one tool use. Built-in tools run in process;
// persisted tool servers receive an HTTP POST. Failures come back as
// error results for the model rather than aborting the run.
func (r *Runner) invokeTool(ctx context.Context, agent *store.Agent, use ToolUse) (string, bool) {
	if fn, ok := builtinTools[use.Name]; ok {
		return fn(use.Input)
	}

	ts, err := r.findToolServer(ctx, agent, use.Name)
	if err != nil {
		return err.Error(), true
	}
	return r.callToolServer(ctx, ts, use)
}

// findToolServer locates the persisted server the agent assigned under
// this tool name.
func (r *Runner) findToolServer(ctx context.Context, agent *store.Agent, name string) (*store.ToolServer, error) {
	for _, ref := range agent.ToolServers {
		if ref.Kind != store.RefPersisted {
			continue
		}
		id, err := ref.UUID()
		if err != nil {
			continue
		}
		ts, err := r.store.GetToolServer(ctx, id)
		if err != nil {
			continue
		}
		if ts.Name == name {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("tool %q is not assigned to this agent", name)
}

func (r *Runner) callToolServer(ctx context.Context, ts *store.ToolServer, use ToolUse) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, toolHTTPTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"tool":  use.Name,
		"input": use.Input,
	})
	if err != nil {
		return fmt.Sprintf("encode tool request: %v", err), true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("build tool request: %v", err), true
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Sprintf("tool server unreachable: %v", err), true
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return fmt.Sprintf("read tool response: %v", err), true
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("tool server returned %d: %s", resp.StatusCode, out), true
	}
	return string(out), false
}

// builtinTools are the in-process implementations of the built-in tool
// servers. web_search and code_interpreter need backing services that
// are configured per deployment; without one they report an error
// result the model can relay.
var builtinTools = map[string]func(input json.RawMessage) (string, bool){
	"web_search": func(json.RawMessage) (string, bool) {
		return "web search is not configured on this deployment", true
	},
	"code_interpreter": func(json.RawMessage) (string, bool) {
		return "code execution is not configured on this deployment", true
	},
	"file_store": fileStoreTool,
}

// fileStore is a process-wide scratch space for the file_store tool.
var fileStore = struct {
	sync.Mutex
	m map[string]string
}{m: make(map[string]string)}

func fileStoreTool(input json.RawMessage) (string, bool) {
	var req struct {
		Op    string `json:"op"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return fmt.Sprintf("invalid file_store input: %v", err), true
	}
	fileStore.Lock()
	defer fileStore.Unlock()
	switch req.Op {
	case "put":
		fileStore.m[req.Key] = req.Value
		return "stored", false
	case "get":
		v, ok := fileStore.m[req.Key]
		if !ok {
			return fmt.Sprintf("no value stored under %q", req.Key), true
		}
		return v, false
	}
	return fmt.Sprintf("unknown op %q", req.Op), true
}
