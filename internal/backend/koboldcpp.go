package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// koboldAdapter speaks KoboldCpp's native /api/v1/generate in raw mode and
// its OpenAI-compatible /v1/chat/completions in chat mode. Raw streaming
// rides the SSE endpoint /api/extra/generate/stream.
type koboldAdapter struct {
	*base
}

type koboldGenResp struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

type koboldStreamResp struct {
	Token string `json:"token"`
}

func (a *koboldAdapter) Generate(ctx context.Context) (*Result, error) {
	compiled, err := a.CompilePrompt(ctx)
	if err != nil {
		return nil, err
	}

	// chat mode rides the OpenAI-compatible endpoint
	if compiled.UseChatFormat {
		return openAIGenerate(a.base, ctx, compiled, a.sampling)
	}

	rctx := a.requestContext(ctx)

	body := map[string]any{
		"prompt":        compiled.Text,
		"stop_sequence": compiled.StopStrings,
	}
	koboldParams(a.sampling, a.contextCfg.TokenLimit, body)

	if !a.extras.streaming() {
		text, err := a.complete(rctx, body)
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
	go a.stream(rctx, body, chunks, errs)
	return &Result{Chunks: chunks, Errs: errs, CompiledPrompt: compiled}, nil
}

func (a *koboldAdapter) complete(ctx context.Context, body map[string]any) (string, error) {
	resp, err := a.postJSON(ctx, baseURL(a.conn)+"/api/v1/generate", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded koboldGenResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if len(decoded.Results) == 0 {
		return "", errors.New("empty response")
	}
	return decoded.Results[0].Text, nil
}

func (a *koboldAdapter) stream(ctx context.Context, body map[string]any, chunks chan<- string, errs chan<- error) {
	defer close(chunks)
	defer close(errs)

	resp, err := a.postJSON(ctx, baseURL(a.conn)+"/api/extra/generate/stream", body)
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

		var decoded koboldStreamResp
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			errs <- err
			return
		}
		if a.Aborted() {
			return
		}
		if decoded.Token != "" {
			chunks <- decoded.Token
		}
	}
}

type koboldModelResp struct {
	Result string `json:"result"`
}

func koboldListModels(ctx context.Context, conn *roleplay.Connection) ModelList {
	var decoded koboldModelResp
	if err := getJSON(ctx, conn, "/api/v1/model", &decoded); err != nil {
		return ModelList{Error: err.Error()}
	}
	if decoded.Result == "" {
		return ModelList{Models: []string{}}
	}
	return ModelList{Models: []string{decoded.Result}}
}
