package backend

import "github.com/halcyonwood/inkwell/internal/roleplay"

// The field-name mappings below are the compatibility contract with each
// backend version: changing a key breaks interoperability. A knob is only
// written when its paired Enabled flag is set.

// openAIParams maps to the OpenAI-compatible request body (also LM Studio
// and llama.cpp's /v1 endpoints).
func openAIParams(s *roleplay.SamplingConfig, body map[string]any) {
	if s.TemperatureEnabled {
		body["temperature"] = s.Temperature
	}
	if s.TopPEnabled {
		body["top_p"] = s.TopP
	}
	if s.FrequencyPenaltyEnabled {
		body["frequency_penalty"] = s.FrequencyPenalty
	}
	if s.PresencePenaltyEnabled {
		body["presence_penalty"] = s.PresencePenalty
	}
	if s.MaxTokensEnabled {
		body["max_tokens"] = s.MaxTokens
	}
	if s.SeedEnabled {
		body["seed"] = s.Seed
	}
}

// ollamaOptions maps to Ollama's nested "options" object.
func ollamaOptions(s *roleplay.SamplingConfig) map[string]any {
	opts := map[string]any{}
	if s.TemperatureEnabled {
		opts["temperature"] = s.Temperature
	}
	if s.TopPEnabled {
		opts["top_p"] = s.TopP
	}
	if s.TopKEnabled {
		opts["top_k"] = s.TopK
	}
	if s.RepetitionPenaltyEnabled {
		opts["repeat_penalty"] = s.RepetitionPenalty
	}
	if s.FrequencyPenaltyEnabled {
		opts["frequency_penalty"] = s.FrequencyPenalty
	}
	if s.PresencePenaltyEnabled {
		opts["presence_penalty"] = s.PresencePenalty
	}
	if s.MaxTokensEnabled {
		opts["num_predict"] = s.MaxTokens
	}
	if s.SeedEnabled {
		opts["seed"] = s.Seed
	}
	return opts
}

// koboldParams maps to KoboldCpp's /api/v1/generate body.
func koboldParams(s *roleplay.SamplingConfig, tokenLimit int, body map[string]any) {
	if s.TemperatureEnabled {
		body["temperature"] = s.Temperature
	}
	if s.TopPEnabled {
		body["top_p"] = s.TopP
	}
	if s.TopKEnabled {
		body["top_k"] = s.TopK
	}
	if s.RepetitionPenaltyEnabled {
		body["rep_pen"] = s.RepetitionPenalty
	}
	if s.MaxTokensEnabled {
		body["max_length"] = s.MaxTokens
	}
	if s.SeedEnabled {
		body["sampler_seed"] = s.Seed
	}
	if tokenLimit > 0 {
		body["max_context_length"] = tokenLimit
	}
}

// llamaCppParams maps to llama.cpp server's native /completion body.
func llamaCppParams(s *roleplay.SamplingConfig, body map[string]any) {
	if s.TemperatureEnabled {
		body["temperature"] = s.Temperature
	}
	if s.TopPEnabled {
		body["top_p"] = s.TopP
	}
	if s.TopKEnabled {
		body["top_k"] = s.TopK
	}
	if s.RepetitionPenaltyEnabled {
		body["repeat_penalty"] = s.RepetitionPenalty
	}
	if s.FrequencyPenaltyEnabled {
		body["frequency_penalty"] = s.FrequencyPenalty
	}
	if s.PresencePenaltyEnabled {
		body["presence_penalty"] = s.PresencePenalty
	}
	if s.MaxTokensEnabled {
		body["n_predict"] = s.MaxTokens
	}
	if s.SeedEnabled {
		body["seed"] = s.Seed
	}
}
