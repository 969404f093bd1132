package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/halcyonwood/inkwell/internal/prompt"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// openAIAdapter speaks the OpenAI-compatible protocol: /v1/chat/completions
// in chat mode and /v1/completions in raw mode, SSE streaming in both.
type openAIAdapter struct {
	*base
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *openAIAdapter) Generate(ctx context.Context) (*Result, error) {
	compiled, err := a.CompilePrompt(ctx)
	if err != nil {
		return nil, err
	}
	return openAIGenerate(a.base, ctx, compiled, a.sampling)
}

// openAIGenerate is shared with the KoboldCpp, LM Studio and llama.cpp
// adapters, which ride the same protocol with their own parameter quirks.
func openAIGenerate(b *base, ctx context.Context, compiled *prompt.Compiled, sampling *roleplay.SamplingConfig) (*Result, error) {
	rctx := b.requestContext(ctx)

	var url string
	body := map[string]any{
		"model":  b.conn.Model,
		"stream": b.extras.streaming(),
	}
	if compiled.UseChatFormat {
		url = baseURL(b.conn) + "/v1/chat/completions"
		body["messages"] = compiled.Messages
	} else {
		url = baseURL(b.conn) + "/v1/completions"
		body["prompt"] = compiled.Text
		body["stop"] = compiled.StopStrings
	}
	openAIParams(sampling, body)

	if !b.extras.streaming() {
		text, err := openAIComplete(b, rctx, url, body, compiled.UseChatFormat)
		if err != nil {
			if b.isAbortErr(err) {
				return &Result{CompiledPrompt: compiled, Aborted: true}, nil
			}
			return nil, err
		}
		return &Result{Text: text, CompiledPrompt: compiled}, nil
	}

	chunks := make(chan string, 16)
	errs := make(chan error, 1)
	go openAIStream(b, rctx, url, body, compiled.UseChatFormat, chunks, errs)
	return &Result{Chunks: chunks, Errs: errs, CompiledPrompt: compiled}, nil
}

func openAIComplete(b *base, ctx context.Context, url string, body map[string]any, chatFormat bool) (string, error) {
	resp, err := b.postJSON(ctx, url, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("empty response")
	}
	if chatFormat {
		return decoded.Choices[0].Message.Content, nil
	}
	return decoded.Choices[0].Text, nil
}

func openAIStream(b *base, ctx context.Context, url string, body map[string]any, chatFormat bool, chunks chan<- string, errs chan<- error) {
	defer close(chunks)
	defer close(errs)

	resp, err := b.postJSON(ctx, url, body)
	if err != nil {
		if !b.Aborted() {
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
			if !b.Aborted() {
				errs <- err
			}
			return
		}

		data, ok := sseData(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return
		}

		var decoded openAIStreamResp
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			errs <- err
			return
		}
		if decoded.Error != nil && decoded.Error.Message != "" {
			errs <- errors.New(decoded.Error.Message)
			return
		}
		if len(decoded.Choices) == 0 {
			continue
		}
		delta := decoded.Choices[0].Delta.Content
		if !chatFormat {
			delta = decoded.Choices[0].Text
		}
		// no more chunks once abort landed
		if b.Aborted() {
			return
		}
		if delta != "" {
			chunks <- delta
		}
	}
}

type openAIModelsResp struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func openAIListModels(ctx context.Context, conn *roleplay.Connection) ModelList {
	var decoded openAIModelsResp
	if err := getJSON(ctx, conn, "/v1/models", &decoded); err != nil {
		return ModelList{Error: err.Error()}
	}
	out := ModelList{Models: make([]string, 0, len(decoded.Data))}
	for _, m := range decoded.Data {
		out.Models = append(out.Models, m.ID)
	}
	return out
}
