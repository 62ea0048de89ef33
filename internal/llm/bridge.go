// Package llm forwards free-form prompts to an OpenAI-compatible chat backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"regexp"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrBridgeUnavailable = errors.New("language model unavailable")

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	Persona        string
	LanguageSuffix string
	StripReasoning bool
	HTTPClient     *http.Client
}

type Bridge struct {
	client openai.Client
	opt    Options
}

func New(opt Options) *Bridge {
	reqOpts := []option.RequestOption{
		option.WithBaseURL(opt.BaseURL),
		option.WithAPIKey(opt.APIKey),
		option.WithMaxRetries(0),
	}
	if opt.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opt.HTTPClient))
	}

	return &Bridge{
		client: openai.NewClient(reqOpts...),
		opt:    opt,
	}
}

// Complete sends the persona preamble and one user turn, and returns the answer text.
// Every failure, cancellation included, wraps ErrBridgeUnavailable.
func (b *Bridge) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "complete prompt", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", b.opt.Model))

	answer, err := b.complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}

	return answer, nil
}

func (b *Bridge) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(b.opt.Persona),
			openai.UserMessage(prompt + b.opt.LanguageSuffix),
		},
		Model:       openai.ChatModel(b.opt.Model),
		Temperature: openai.Float(b.opt.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	log.Debug("Completed prompt", "model", b.opt.Model, "raw", content)

	if b.opt.StripReasoning {
		content = thinkRe.ReplaceAllString(content, "")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}

	return content, nil
}
