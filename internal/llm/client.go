package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client is a client for an OpenAI-compatible chat completions API.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewClient creates a new generation client.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  http.DefaultClient,
	}
}

// ChatRequest represents the request payload for chat completions.
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float32        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions controls streaming behavior of the completions API.
type StreamOptions struct {
	// IncludeUsage asks the server to send a final usage-only chunk after
	// the last content chunk.
	IncludeUsage bool `json:"include_usage"`
}

// ChatChoice represents a single choice in the chat response.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatUsage reports token accounting for a completion.
type ChatUsage struct {
	TotalTokens int `json:"total_tokens"`
}

// ChatResponse represents the response from the chat completions API.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// ChatWithMessages sends a chat completion request and returns the answer
// text along with the completion token count.
func (c *Client) ChatWithMessages(ctx context.Context, messages []Message, params ChatParams) (string, int, error) {
	url := fmt.Sprintf("%s/v1/chat/completions", c.BaseURL)

	model := params.Model
	if model == "" {
		model = c.Model
	}
	payload := ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", 0, fmt.Errorf("no choices returned")
	}

	return chatResp.Choices[0].Message.Content, chatResp.Usage.TotalTokens, nil
}

// streamAnnotation is the wire shape of a citation annotation inside a
// streamed delta.
type streamAnnotation struct {
	Type     string `json:"type"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Quote    string `json:"quote"`
}

// streamChunk is the wire shape of one streamed completion chunk. An
// error-shaped record carries only the error object.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content     string             `json:"content"`
			Annotations []streamAnnotation `json:"annotations"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *ChatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamChat sends a streaming chat completion request and calls the
// callback for each decoded event, in arrival order.
//
// The SSE body is parsed line by line; data lines that fail to decode are
// skipped rather than aborting the stream, and annotation entries with
// unrecognized types are ignored. An error record from the server is
// delivered as a StreamError event and ends the stream without a StreamDone.
// A callback error stops consumption and is returned, which also closes the
// upstream body.
func (c *Client) StreamChat(ctx context.Context, messages []Message, params ChatParams, callback func(StreamEvent) error) error {
	url := fmt.Sprintf("%s/v1/chat/completions", c.BaseURL)

	model := params.Model
	if model == "" {
		model = c.Model
	}
	payload := ChatRequest{
		Model:         model,
		Messages:      messages,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		Stream:        true,
		StreamOptions: &StreamOptions{IncludeUsage: true},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	const dataPrefix = "data: "
	const doneMarker = "[DONE]"

	completionTokens := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, dataPrefix)
		if data == doneMarker {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed records
			continue
		}

		if chunk.Error != nil {
			// An in-band error record terminates the stream.
			if err := callback(StreamError{Message: chunk.Error.Message}); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
			return nil
		}

		if chunk.Usage != nil {
			completionTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if err := callback(TextDelta{Content: choice.Delta.Content}); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
		}
		for _, ann := range choice.Delta.Annotations {
			if ann.Type != "file_citation" || ann.FileID == "" {
				continue
			}
			ev := Annotation{
				SourceID:    ann.FileID,
				Quote:       ann.Quote,
				DisplayName: ann.Filename,
			}
			if err := callback(ev); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}

	if err := callback(StreamDone{CompletionTokens: completionTokens}); err != nil {
		return fmt.Errorf("callback error: %w", err)
	}
	return nil
}
