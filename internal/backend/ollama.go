package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// ollamaAdapter speaks Ollama's native protocol: /api/chat in chat mode,
// /api/generate in raw mode. Both stream newline-delimited JSON objects.
type ollamaAdapter struct {
	*base
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResp struct {
	Message  ollamaMsg `json:"message"`
	Response string    `json:"response"`
	Done     bool      `json:"done"`
	Error    string    `json:"error,omitempty"`
}

func (a *ollamaAdapter) Generate(ctx context.Context) (*Result, error) {
	compiled, err := a.CompilePrompt(ctx)
	if err != nil {
		return nil, err
	}

	rctx := a.requestContext(ctx)

	var url string
	body := map[string]any{
		"model":  a.conn.Model,
		"stream": a.extras.streaming(),
	}
	opts := ollamaOptions(a.sampling)
	if compiled.UseChatFormat {
		url = baseURL(a.conn) + "/api/chat"
		msgs := make([]ollamaMsg, 0, len(compiled.Messages))
		for _, m := range compiled.Messages {
			msgs = append(msgs, ollamaMsg{Role: m.Role, Content: m.Content})
		}
		body["messages"] = msgs
	} else {
		url = baseURL(a.conn) + "/api/generate"
		body["prompt"] = compiled.Text
		body["raw"] = true
		opts["stop"] = compiled.StopStrings
	}
	if len(opts) > 0 {
		body["options"] = opts
	}

	if !a.extras.streaming() {
		text, err := a.complete(rctx, url, body, compiled.UseChatFormat)
		if err != nil {
			if a.isAbortErr(err) {
				return &Result{CompiledPrompt: compiled, Aborted: true}, nil
			}
			return nil, err
		}
		return &Result{Text: text, CompiledPrompt: compiled}, nil
	}

	chunks := make(chan string, 16)
	errs := make(chan error, 1)
	go a.stream(rctx, url, body, compiled.UseChatFormat, chunks, errs)
	return &Result{Chunks: chunks, Errs: errs, CompiledPrompt: compiled}, nil
}

func (a *ollamaAdapter) complete(ctx context.Context, url string, body map[string]any, chatFormat bool) (string, error) {
	resp, err := a.postJSON(ctx, url, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded ollamaResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	if chatFormat {
		return decoded.Message.Content, nil
	}
	return decoded.Response, nil
}

func (a *ollamaAdapter) stream(ctx context.Context, url string, body map[string]any, chatFormat bool, chunks chan<- string, errs chan<- error) {
	defer close(chunks)
	defer close(errs)

	resp, err := a.postJSON(ctx, url, body)
	if err != nil {
		if !a.Aborted() {
			errs <- err
		}
		return
	}
	defer resp.Body.Close()

	sc := newFrameScanner(resp.Body)
	for {
		line, err := sc.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			if !a.Aborted() {
				errs <- err
			}
			return
		}
		if line == "" {
			continue
		}

		var decoded ollamaResp
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			errs <- err
			return
		}
		if decoded.Error != "" {
			errs <- errors.New(decoded.Error)
			return
		}

		delta := decoded.Message.Content
		if !chatFormat {
			delta = decoded.Response
		}
		if a.Aborted() {
			return
		}
		if delta != "" {
			chunks <- delta
		}
		if decoded.Done {
			return
		}
	}
}

type ollamaTagsResp struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func ollamaListModels(ctx context.Context, conn *roleplay.Connection) ModelList {
	var decoded ollamaTagsResp
	if err := getJSON(ctx, conn, "/api/tags", &decoded); err != nil {
		return ModelList{Error: err.Error()}
	}
	out := ModelList{Models: make([]string, 0, len(decoded.Models))}
	for _, m := range decoded.Models {
		out.Models = append(out.Models, m.Name)
	}
	return out
}
