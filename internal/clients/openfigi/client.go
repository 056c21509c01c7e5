// Package openfigi provides a client for Bloomberg's OpenFIGI API.
// OpenFIGI is a free service for mapping securities identifiers like ISINs
// and CUSIPs to exchange-specific ticker symbols.
package openfigi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/clientdata"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.openfigi.com/v3"

// Mapping requests allowed per minute without and with an API key
const (
	anonymousPerMinute = 25
	keyedPerMinute     = 250
)

// OpenFIGI id types
const (
	IDTypeISIN  = "ID_ISIN"
	IDTypeCUSIP = "ID_CUSIP"
)

var (
	isinPattern  = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
	cusipPattern = regexp.MustCompile(`^[0-9]{3}[A-Z0-9]{5}[0-9]$`)
)

// preferredExchanges orders listings when an identifier trades on several
// exchanges: US composite first, then Canadian venues.
var preferredExchanges = []string{"US", "CN", "CT", "CV"}

// MappingRequest represents a request to the OpenFIGI mapping API.
type MappingRequest struct {
	IDType    string `json:"idType"`
	IDValue   string `json:"idValue"`
	ExchCode  string `json:"exchCode,omitempty"`
	MarketSec string `json:"marketSecDes,omitempty"` // e.g., "Equity"
}

// MappingResult represents a single listing returned by the OpenFIGI API.
type MappingResult struct {
	FIGI          string `json:"figi"`
	Ticker        string `json:"ticker"`
	ExchCode      string `json:"exchCode"` // e.g., "US", "CN", "LN"
	Name          string `json:"name"`
	MarketSector  string `json:"marketSector"` // e.g., "Equity"
	SecurityType  string `json:"securityType"` // e.g., "Common Stock"
	SecurityType2 string `json:"securityType2"`
	CompositeFIGI string `json:"compositeFIGI"`
}

// MappingResponse represents a response item from the OpenFIGI API.
type MappingResponse struct {
	Data    []MappingResult `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

// Client is the OpenFIGI API client. It implements domain.SymbolLookup for
// ISIN and CUSIP candidates.
type Client struct {
	baseURL    string
	apiKey     string // Optional - increases rate limits
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a new OpenFIGI client.
// apiKey is optional but recommended for higher rate limits.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(apiKey string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	perMinute := anonymousPerMinute
	if apiKey != "" {
		perMinute = keyedPerMinute
	}
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
		log:       log.With().Str("component", "openfigi").Logger(),
		cacheRepo: cacheRepo,
	}
}

// IdentifierType returns the OpenFIGI id type of s, or "" when s is
// neither an ISIN nor a CUSIP.
func IdentifierType(s string) string {
	switch {
	case isinPattern.MatchString(s):
		return IDTypeISIN
	case cusipPattern.MatchString(s):
		return IDTypeCUSIP
	default:
		return ""
	}
}

// Lookup maps an identifier candidate to its ticker. Candidates that are
// not identifiers, and identifiers OpenFIGI does not know, get (nil, nil)
// so the next lookup can try.
func (c *Client) Lookup(ctx context.Context, req domain.SymbolLookupRequest) (*domain.SymbolLookupResponse, error) {
	id := strings.ToUpper(strings.Join(strings.Fields(req.SymbolCandidate), ""))
	idType := IdentifierType(id)
	if idType == "" {
		return nil, nil
	}

	results, err := c.Map(ctx, idType, id)
	if err != nil {
		return nil, err
	}

	best := pick(results)
	if best == nil {
		c.log.Debug().Str("identifier", id).Msg("No listing found")
		return nil, nil
	}

	return &domain.SymbolLookupResponse{
		NormalizedSymbol: best.Ticker,
		AssetType:        assetType(*best),
		Confidence:       confidence(results),
	}, nil
}

// Map returns every listing of an identifier.
// If the API fails, returns stale cached data if available (stale data > no data).
func (c *Client) Map(ctx context.Context, idType, id string) ([]MappingResult, error) {
	if results, ok := c.getFromCache(id, false); ok {
		c.log.Debug().Str("identifier", id).Msg("OpenFIGI cache hit")
		return results, nil
	}

	responses, err := c.doRequest(ctx, []MappingRequest{{IDType: idType, IDValue: id}})
	if err != nil {
		if stale, ok := c.getFromCache(id, true); ok {
			c.log.Warn().
				Err(err).
				Str("identifier", id).
				Msg("API failed, using stale cached data")
			return stale, nil
		}
		return nil, err
	}

	if len(responses) == 0 {
		return nil, nil
	}
	if responses[0].Error != "" {
		// "No identifier found." is an answer, not a failure
		c.log.Debug().Str("identifier", id).Str("error", responses[0].Error).Msg("OpenFIGI returned no mapping")
		c.setCache(id, []MappingResult{})
		return nil, nil
	}

	results := responses[0].Data
	c.setCache(id, results)
	return results, nil
}

// doRequest performs the HTTP request to the OpenFIGI API.
func (c *Client) doRequest(ctx context.Context, requests []MappingRequest) ([]MappingResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mapping", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-OPENFIGI-APIKEY", c.apiKey)
	}

	c.log.Debug().Int("count", len(requests)).Msg("Making OpenFIGI request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("OpenFIGI API error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var responses []MappingResponse
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return responses, nil
}

// pick chooses the listing on the most preferred exchange
func pick(results []MappingResult) *MappingResult {
	for _, exch := range preferredExchanges {
		for i := range results {
			if results[i].ExchCode == exch && results[i].Ticker != "" {
				return &results[i]
			}
		}
	}
	for i := range results {
		if results[i].Ticker != "" {
			return &results[i]
		}
	}
	return nil
}

// confidence is high when every listing agrees on the ticker
func confidence(results []MappingResult) float64 {
	tickers := make(map[string]bool)
	for _, r := range results {
		if r.Ticker != "" {
			tickers[r.Ticker] = true
		}
	}
	if len(tickers) == 1 {
		return 0.95
	}
	return 0.8
}

func assetType(r MappingResult) string {
	switch {
	case r.SecurityType == "ETP" || strings.Contains(r.SecurityType2, "ETF"):
		return "etf"
	case strings.Contains(r.SecurityType, "Fund"):
		return "mutual_fund"
	case r.MarketSector == "Equity":
		return "stock"
	default:
		return ""
	}
}

// getFromCache reads cached listings; allowStale ignores expiry.
func (c *Client) getFromCache(id string, allowStale bool) ([]MappingResult, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var data json.RawMessage
	var err error
	if allowStale {
		data, err = c.cacheRepo.Get(clientdata.TableIdentifierMappings, id)
	} else {
		data, err = c.cacheRepo.GetIfFresh(clientdata.TableIdentifierMappings, id)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("identifier", id).Msg("Failed to get from cache")
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	var results []MappingResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.log.Warn().Err(err).Str("identifier", id).Msg("Failed to unmarshal cached data")
		return nil, false
	}

	return results, true
}

// setCache stores results in the persistent cache.
func (c *Client) setCache(id string, results []MappingResult) {
	if c.cacheRepo == nil {
		return
	}

	if err := c.cacheRepo.Store(clientdata.TableIdentifierMappings, id, results, clientdata.TTLIdentifierMapping); err != nil {
		c.log.Warn().Err(err).Str("identifier", id).Msg("Failed to cache OpenFIGI results")
	}
}
