// Package llm extracts track blocks and playlist links from page text with a language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/pkg/text"
)

var ErrNotConfigured = errors.New("LLM provider not configured")

// Completer sends one system and user prompt pair and returns the raw JSON reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Provider implements core.Extractor on top of the configured Completer.
type Provider struct {
	config  *core.LLMConfig
	logger  *zap.Logger
	metrics core.Metrics
	client  Completer
	now     func() time.Time
}

func NewProvider(config *core.LLMConfig, logger *zap.Logger, metrics core.Metrics) (*Provider, error) {
	var client Completer
	var err error

	switch config.Provider {
	case "openai":
		client, err = NewOpenAIClient(config, logger)
	case "anthropic":
		client, err = NewAnthropicClient(config, logger)
	case "ollama":
		client, err = NewOllamaClient(config, logger)
	case "none", "":
		client = &NoOpClient{}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	return newProvider(config, client, logger, metrics), nil
}

func newProvider(config *core.LLMConfig, client Completer, logger *zap.Logger, metrics core.Metrics) *Provider {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &Provider{
		config:  config,
		logger:  logger,
		metrics: metrics,
		client:  client,
		now:     time.Now,
	}
}

// ExtractBlocks asks the model for the track blocks on a page. The content is cut to
// the configured character budget first.
func (p *Provider) ExtractBlocks(ctx context.Context, sourceURL, content string) (*core.ParsedPage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty page content for %s", sourceURL)
	}

	raw, err := p.complete(ctx, blocksSystemPrompt, blocksUserPrompt(sourceURL, p.truncate(sourceURL, content)))
	if err != nil {
		return nil, err
	}

	page, err := parseBlocks(sourceURL, raw, p.now().UTC())
	if err != nil {
		p.logger.Warn("Unusable block extraction", zap.String("url", sourceURL), zap.Error(err))
		return nil, err
	}

	p.logger.Info("Extracted track blocks",
		zap.String("url", sourceURL),
		zap.String("source", page.SourceName),
		zap.Int("blocks", len(page.Blocks)),
		zap.Int("tracks", page.TrackCount()))

	return page, nil
}

// ExtractLinks asks the model which of the "[text](href)" lines point at track
// listings. Relative URLs are resolved against baseURL.
func (p *Provider) ExtractLinks(ctx context.Context, baseURL, content string) ([]core.ExtractedLink, error) {
	if strings.TrimSpace(content) == "" {
		return []core.ExtractedLink{}, nil
	}

	raw, err := p.complete(ctx, linksSystemPrompt, linksUserPrompt(baseURL, p.truncate(baseURL, content)))
	if err != nil {
		return nil, err
	}

	links, err := parseLinks(baseURL, raw)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Extracted playlist links", zap.String("url", baseURL), zap.Int("links", len(links)))
	return links, nil
}

func (p *Provider) complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	raw, err := p.client.Complete(ctx, system, user)
	if err != nil {
		p.metrics.RecordLLMCall(p.providerName(), "error")
		return "", err
	}
	p.metrics.RecordLLMCall(p.providerName(), "success")

	p.logger.Debug("LLM completion received",
		zap.String("provider", p.providerName()),
		zap.Int("chars", len(raw)),
		zap.Duration("duration", time.Since(start)))
	return raw, nil
}

func (p *Provider) truncate(url, content string) string {
	truncated, cut := text.Truncate(content, p.config.MaxContentChars)
	if cut {
		p.logger.Warn("Page content truncated for extraction",
			zap.String("url", url),
			zap.Int("chars", len([]rune(content))),
			zap.Int("limit", p.config.MaxContentChars))
	}
	return truncated
}

func (p *Provider) providerName() string {
	if p.config.Provider == "" {
		return "none"
	}
	return p.config.Provider
}

type NoOpClient struct{}

func (n *NoOpClient) Complete(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
