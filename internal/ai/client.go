package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrGenerationFailed = errors.New("ai generation failed")

// Role labels for chat completion messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part is one piece of a multimodal message: plain text or an image
// reference.
type Part struct {
	Text     string
	ImageURL string
}

// Message is one turn in the conversation handed to the model.
type Message struct {
	Role  string
	Parts []Part
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Generator streams a completion for the given conversation, invoking
// onChunk for every token fragment as it arrives. A non-nil error from
// onChunk aborts the stream.
type Generator interface {
	StreamChat(ctx context.Context, system string, msgs []Message, onChunk func(string) error) error
}

// Client talks to an OpenAI-compatible chat completions endpoint over
// server-sent events.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func encodeMessage(m Message) wireMessage {
	// Single text part collapses to the plain string form most
	// backends prefer.
	if len(m.Parts) == 1 && m.Parts[0].ImageURL == "" {
		return wireMessage{Role: m.Role, Content: m.Parts[0].Text}
	}
	parts := make([]wirePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.ImageURL != "" {
			parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURL}})
			continue
		}
		parts = append(parts, wirePart{Type: "text", Text: p.Text})
	}
	return wireMessage{Role: m.Role, Content: parts}
}

func (c *Client) StreamChat(ctx context.Context, system string, msgs []Message, onChunk func(string) error) error {
	wire := make([]wireMessage, 0, len(msgs)+1)
	if system != "" {
		wire = append(wire, wireMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range msgs {
		wire = append(wire, encodeMessage(m))
	}

	body, err := json.Marshal(completionRequest{Model: c.model, Messages: wire, Stream: true})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, resp.StatusCode, msg)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				return nil
			}
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("%w: decode chunk: %v", ErrGenerationFailed, err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onChunk(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read stream: %v", ErrGenerationFailed, err)
	}
	return nil
}
