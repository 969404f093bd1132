package draft

import (
	"context"
	"strings"

	"github.com/halcyonwood/inkwell/internal/backend"
	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// backendCompleter runs each draft prompt through a throwaway assistant-mode
// chat on the user's active connection. The single user message carries
// function-call metadata so the compiler selects the barest system prompt.
type backendCompleter struct {
	settings *roleplay.GenerationSettings
}

func NewBackendCompleter(settings *roleplay.GenerationSettings) Completer {
	return &backendCompleter{settings: settings}
}

func (c *backendCompleter) Complete(ctx context.Context, promptText string) (string, error) {
	md, err := roleplay.EncodeMessageMetadata(roleplay.MessageMetadata{FunctionCall: true})
	if err != nil {
		return "", err
	}

	chatID, err := common.NewULID()
	if err != nil {
		return "", err
	}
	chat := &roleplay.Chat{
		ChatID: chatID,
		Type:   roleplay.ChatTypeAssistant,
		Messages: []roleplay.ChatMessage{{
			Role:     roleplay.RoleUser,
			Content:  promptText,
			Metadata: md,
		}},
	}

	ad, err := backend.New(backend.Params{
		Connection: c.settings.Connection,
		Sampling:   c.settings.Sampling,
		ContextCfg: c.settings.Context,
		PromptCfg:  c.settings.Prompt,
		Chat:       chat,
	})
	if err != nil {
		return "", err
	}

	res, err := ad.Generate(ctx)
	if err != nil {
		return "", err
	}
	if res.Chunks == nil {
		return res.Text, nil
	}

	var b strings.Builder
	for chunk := range res.Chunks {
		b.WriteString(chunk)
	}
	if res.Errs != nil {
		if err := <-res.Errs; err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
