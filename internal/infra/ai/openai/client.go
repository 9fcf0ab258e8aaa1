package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
	"github.com/bryanwahyu/auditflow/internal/infra/ai/prompt"
)

const maxTokens = 4096

// Client implements the Enhancer port on top of the OpenAI API. The one-time
// source upload goes through the Files API; the returned file id is the
// opaque context handle stored on the Project.
type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

// UploadSource pushes the bundled project source once and returns its handle.
func (c *Client) UploadSource(ctx context.Context, name string, source []byte) (string, error) {
	file, err := c.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   source,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("uploading source context: %w", err)
	}
	return file.ID, nil
}

// Enhance submits the findings snapshot plus the context handle and returns
// the raw response body; strict schema validation happens in the domain.
func (c *Client) Enhance(ctx context.Context, contextHandle string, snapshot domain.Snapshot) ([]byte, error) {
	findings, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshaling findings snapshot: %w", err)
	}

	model := c.Model
	if model == "" {
		model = "o3-2025-04-16"
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(contextHandle, string(findings))},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}
	return []byte(resp.Choices[0].Message.Content), nil
}
