package gemini

import (
	"fmt"
	"strings"

	"github.com/llmgate/llmgate/internal/ailink/content"
	"github.com/llmgate/llmgate/internal/ailink/driver"
)

type generateRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"topP,omitempty"`
	MaxOutputTokens  *int           `json:"maxOutputTokens,omitempty"`
	StopSequences    []string       `json:"stopSequences,omitempty"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

func buildGenerateRequest(req *driver.Request) (*generateRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	payload := &generateRequest{}
	for _, msg := range req.Messages {
		parts := make([]part, 0, len(msg.Content))
		for _, block := range msg.Content {
			if block.Type != content.ContentTypeText && block.Type != content.ContentTypeJSON {
				return nil, fmt.Errorf("unsupported content type: %s", block.Type)
			}
			parts = append(parts, part{Text: block.Text})
		}

		switch msg.Role {
		case content.RoleSystem:
			if payload.SystemInstruction == nil {
				payload.SystemInstruction = &geminiContent{}
			}
			payload.SystemInstruction.Parts = append(payload.SystemInstruction.Parts, parts...)
		case content.RoleAssistant:
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: parts})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: parts})
		}
	}

	cfg := &generationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.Stop,
	}
	if rf := req.ResponseFormat; rf != nil && rf.Type != "" && rf.Type != "text" {
		cfg.ResponseMIMEType = "application/json"
		if rf.JSONSchema != nil {
			cfg.ResponseSchema = rf.JSONSchema.Schema
		}
	}
	if cfg.Temperature != nil || cfg.TopP != nil || cfg.MaxOutputTokens != nil ||
		len(cfg.StopSequences) > 0 || cfg.ResponseMIMEType != "" {
		payload.GenerationConfig = cfg
	}

	return payload, nil
}
