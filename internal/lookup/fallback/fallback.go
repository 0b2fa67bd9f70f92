// Package fallback is the secondary lookup provider: a plain Gemini model in JSON
// mode, without search grounding.
package fallback

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/lookup"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

type Config struct {
	Model       string
	Temperature float32
}

// Provider implements lookup.Gateway.
type Provider struct {
	creds lookup.Credentials
	cfg   Config

	mu     sync.Mutex
	client *genai.Client
	key    string
}

func New(creds lookup.Credentials, cfg Config) (*Provider, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		return nil, eris.New("fallback: model is required")
	}
	return &Provider{creds: creds, cfg: cfg}, nil
}

func (p *Provider) Name() string {
	return lookup.ProviderFallback
}

func (p *Provider) Lookup(ctx context.Context, batch []contact.Record) (lookup.Results, error) {
	key, err := lookup.Precheck(p.creds, batch)
	if err != nil {
		return nil, err
	}
	client, err := p.clientFor(ctx, key)
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(p.cfg.Model)
	model.SetTemperature(p.cfg.Temperature)
	model.SetCandidateCount(1)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(lookup.BuildPrompt(batch)))
	if err != nil {
		return lookup.FailAll(batch, classifyErr(err), redact.Truncate(err.Error(), 300)), nil
	}
	text, err := extractText(resp)
	if err != nil {
		return lookup.FailAll(batch, lookup.ServiceError, err.Error()), nil
	}
	return lookup.ParseResponse(text, batch), nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	p.key = ""
	return err
}

func (p *Provider) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.key == key {
		return p.client, nil
	}
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, eris.Wrap(err, "fallback: new client")
	}
	p.client = client
	p.key = key
	return client, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", eris.New("no candidates in response")
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return "", eris.New("no content in response")
	}
	var parts []string
	for _, part := range c.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", eris.New("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// httpCoder is satisfied by the API errors the REST transport returns.
type httpCoder interface {
	HTTPCode() int
}

type reasoner interface {
	Reason() string
}

func classifyErr(err error) lookup.ErrorKind {
	code := 0
	var hc httpCoder
	var gerr *googleapi.Error
	switch {
	case errors.As(err, &hc):
		code = hc.HTTPCode()
	case errors.As(err, &gerr):
		code = gerr.Code
	}

	var r reasoner
	if errors.As(err, &r) && strings.EqualFold(r.Reason(), "API_KEY_INVALID") {
		return lookup.InvalidCredential
	}
	if gerr != nil || errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if strings.EqualFold(item.Reason, "API_KEY_INVALID") {
				return lookup.InvalidCredential
			}
		}
	}

	switch code {
	case http.StatusTooManyRequests:
		return lookup.RateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return lookup.InvalidCredential
	}
	return lookup.ServiceError
}
