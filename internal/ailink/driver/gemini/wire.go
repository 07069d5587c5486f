package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pcroast/pcroast/internal/ailink/driver"
)

type generateContentRequest struct {
	Contents          []contentPart     `json:"contents"`
	SystemInstruction *contentPart      `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type contentPart struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      contentPart `json:"content"`
	FinishReason string      `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func buildGenerateRequest(req *driver.Request) (*generateContentRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	payload := &generateContentRequest{}
	for _, msg := range req.Messages {
		switch msg.Role {
		case driver.RoleSystem:
			if payload.SystemInstruction == nil {
				payload.SystemInstruction = &contentPart{}
			}
			payload.SystemInstruction.Parts = append(payload.SystemInstruction.Parts, part{Text: msg.Text})
		case "assistant", "model":
			payload.Contents = append(payload.Contents, contentPart{Role: "model", Parts: []part{{Text: msg.Text}}})
		default:
			payload.Contents = append(payload.Contents, contentPart{Role: "user", Parts: []part{{Text: msg.Text}}})
		}
	}
	if len(payload.Contents) == 0 {
		return nil, fmt.Errorf("at least one user message is required")
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		payload.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	return payload, nil
}

func toDriverResponse(resp *generateContentResponse) (*driver.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response candidates")
	}

	first := resp.Candidates[0]
	var text strings.Builder
	for _, p := range first.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("candidate has no text (finish reason %s)", first.FinishReason)
	}

	out := &driver.Response{
		Text:         text.String(),
		FinishReason: first.FinishReason,
	}
	if resp.UsageMetadata != nil {
		out.Usage = &driver.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

func errorMessage(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}
