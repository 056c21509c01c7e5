// Package gemini provides an AI-backed symbol lookup on Google's Gemini API.
// Answers are cached in client_data.db and served stale when the API fails.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/aristath/tradeinbox/internal/clientdata"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// contentGenerator is the subset of *genai.Models the client uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements domain.SymbolLookup on top of Gemini.
type Client struct {
	models    contentGenerator
	model     string
	cacheRepo *clientdata.Repository
	log       zerolog.Logger
}

// NewClient creates a Gemini-backed symbol lookup.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(ctx context.Context, apiKey, model string, cacheRepo *clientdata.Repository, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}

	return newClient(gc.Models, model, cacheRepo, log), nil
}

func newClient(models contentGenerator, model string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		models:    models,
		model:     model,
		cacheRepo: cacheRepo,
		log:       log.With().Str("component", "gemini").Logger(),
	}
}

// Lookup asks the model for the canonical ticker of req.SymbolCandidate.
// A nil response with a nil error means the model had no answer.
func (c *Client) Lookup(ctx context.Context, req domain.SymbolLookupRequest) (*domain.SymbolLookupResponse, error) {
	key := cacheKey(req)

	if resp, ok := c.getFromCache(key, false); ok {
		c.log.Debug().Str("symbol", req.SymbolCandidate).Msg("Symbol lookup cache hit")
		return resp, nil
	}

	resp, err := c.generate(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			if stale, ok := c.getFromCache(key, true); ok {
				c.log.Warn().
					Err(err).
					Str("symbol", req.SymbolCandidate).
					Msg("API failed, using stale cached lookup")
				return stale, nil
			}
		}
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	c.setCache(key, resp)
	return resp, nil
}

func (c *Client) generate(ctx context.Context, req domain.SymbolLookupRequest) (*domain.SymbolLookupResponse, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	}

	result, err := c.models.GenerateContent(ctx, c.model, genai.Text(buildPrompt(req)), config)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	text := responseText(result)
	if text == "" {
		return nil, nil
	}

	return parseAnswer(text)
}

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"normalizedSymbol": {Type: genai.TypeString, Description: "Canonical exchange ticker, upper case."},
		"assetType":        {Type: genai.TypeString, Description: "One of stock, etf, option, crypto, fund, bond."},
		"confidence":       {Type: genai.TypeNumber, Description: "Confidence between 0 and 1."},
	},
	Required: []string{"normalizedSymbol", "confidence"},
}

const systemPrompt = `You normalize security symbols found in broker trade confirmation emails.
Answer with the canonical ticker as listed on its primary exchange, the asset type,
and a confidence between 0 and 1. Use an empty symbol when unsure.`

func buildPrompt(req domain.SymbolLookupRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol as written: %q\n", req.SymbolCandidate)
	if req.AssetTypeHint != "" {
		fmt.Fprintf(&b, "Asset type hint: %s\n", req.AssetTypeHint)
	}
	if req.ContextSnippet != "" {
		fmt.Fprintf(&b, "Email excerpt:\n%s\n", req.ContextSnippet)
	}
	return b.String()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// parseAnswer extracts the lookup fields from the model's JSON. Models
// sometimes wrap JSON in a markdown fence, which is stripped first.
func parseAnswer(text string) (*domain.SymbolLookupResponse, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var doc interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil {
		return nil, fmt.Errorf("gemini answer is not JSON: %w", err)
	}

	symbol, _ := first(doc, "$.normalizedSymbol").(string)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, nil
	}

	assetType, _ := first(doc, "$.assetType").(string)
	confidence, _ := first(doc, "$.confidence").(float64)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &domain.SymbolLookupResponse{
		NormalizedSymbol: symbol,
		AssetType:        strings.ToLower(strings.TrimSpace(assetType)),
		Confidence:       confidence,
	}, nil
}

// first evaluates path and unwraps single-element lists
func first(doc interface{}, path string) interface{} {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil
	}
	if list, ok := v.([]interface{}); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

func cacheKey(req domain.SymbolLookupRequest) string {
	return strings.ToUpper(strings.TrimSpace(req.SymbolCandidate)) + "|" + strings.ToLower(req.AssetTypeHint)
}

func (c *Client) getFromCache(key string, allowStale bool) (*domain.SymbolLookupResponse, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var (
		data json.RawMessage
		err  error
	)
	if allowStale {
		data, err = c.cacheRepo.Get(clientdata.TableSymbolLookups, key)
	} else {
		data, err = c.cacheRepo.GetIfFresh(clientdata.TableSymbolLookups, key)
	}
	if err != nil || data == nil {
		return nil, false
	}

	var resp domain.SymbolLookupResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable cached lookup")
		return nil, false
	}
	return &resp, true
}

func (c *Client) setCache(key string, resp *domain.SymbolLookupResponse) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store(clientdata.TableSymbolLookups, key, resp, clientdata.TTLSymbolLookup); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache symbol lookup")
	}
}
