package backend

import (
	"context"
	"encoding/json"
	"io"
)

// llamaCppAdapter targets llama.cpp's built-in server. Chat mode uses its
// OpenAI-compatible endpoint; raw mode uses the native /completion endpoint
// with llama.cpp's own field names and SSE streaming.
type llamaCppAdapter struct {
	*base
}

type llamaCppResp struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (a *llamaCppAdapter) Generate(ctx context.Context) (*Result, error) {
	compiled, err := a.CompilePrompt(ctx)
	if err != nil {
		return nil, err
	}

	if compiled.UseChatFormat {
		return openAIGenerate(a.base, ctx, compiled, a.sampling)
	}

	rctx := a.requestContext(ctx)

	body := map[string]any{
		"prompt": compiled.Text,
		"stream": a.extras.streaming(),
		"stop":   compiled.StopStrings,
	}
	llamaCppParams(a.sampling, body)

	url := baseURL(a.conn) + "/completion"

	if !a.extras.streaming() {
		text, err := a.complete(rctx, url, body)
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
	go a.stream(rctx, url, body, chunks, errs)
	return &Result{Chunks: chunks, Errs: errs, CompiledPrompt: compiled}, nil
}

func (a *llamaCppAdapter) complete(ctx context.Context, url string, body map[string]any) (string, error) {
	resp, err := a.postJSON(ctx, url, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded llamaCppResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	return decoded.Content, nil
}

func (a *llamaCppAdapter) stream(ctx context.Context, url string, body map[string]any, chunks chan<- string, errs chan<- error) {
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

		data, ok := sseData(line)
		if !ok {
			continue
		}

		var decoded llamaCppResp
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			errs <- err
			return
		}
		if a.Aborted() {
			return
		}
		if decoded.Content != "" {
			chunks <- decoded.Content
		}
		if decoded.Stop {
			return
		}
	}
}
