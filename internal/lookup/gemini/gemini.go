package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/lookup"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

// Config configures the search-grounded provider.
type Config struct {
	Model string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Provider is the primary Gateway: Gemini with Google Search grounding.
type Provider struct {
	creds lookup.Credentials
	cfg   Config

	mu     sync.Mutex
	client *genai.Client
	key    string
}

// New returns a Provider. The API key is read from creds on every call, so a
// credential entered after construction is picked up without rebuilding.
func New(creds lookup.Credentials, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("gemini: model is required")
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	return &Provider{creds: creds, cfg: cfg}, nil
}

func (p *Provider) Name() string {
	return lookup.ProviderPrimary
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"results": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":        {Type: genai.TypeInteger},
					"city":      {Type: genai.TypeString},
					"job_title": {Type: genai.TypeString},
				},
				Required: []string{"id", "city", "job_title"},
			},
		},
	},
	Required: []string{"results"},
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

	resp, err := client.Models.GenerateContent(
		ctx,
		p.cfg.Model,
		genai.Text(lookup.BuildPrompt(batch)),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{GoogleSearch: &genai.GoogleSearch{}},
			},
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		kind := classifyErr(err)
		return lookup.FailAll(batch, kind, redact.Truncate(err.Error(), 300)), nil
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return lookup.FailAll(batch, lookup.ServiceError, "empty response"), nil
	}
	return lookup.ParseResponse(resp.Text(), batch), nil
}

// clientFor reuses the client until the credential changes.
func (p *Provider) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.key == key {
		return p.client, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if p.cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = p.cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	p.client = client
	p.key = key
	return client, nil
}

// classifyErr maps Gemini API errors onto the closed lookup.ErrorKind set.
func classifyErr(err error) lookup.ErrorKind {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return lookup.ServiceError
		}
		apiErr = *apiErrPtr
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
		return lookup.RateLimited
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return lookup.InvalidCredential
	case apiErr.Status == "UNAUTHENTICATED" || apiErr.Status == "PERMISSION_DENIED":
		return lookup.InvalidCredential
	case hasReason(apiErr.Details, "API_KEY_INVALID"):
		// Gemini answers 400 INVALID_ARGUMENT for a malformed or revoked key.
		return lookup.InvalidCredential
	}
	return lookup.ServiceError
}

func hasReason(details []map[string]any, reason string) bool {
	for _, d := range details {
		if r, ok := d["reason"].(string); ok && strings.EqualFold(r, reason) {
			return true
		}
	}
	return false
}
