package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"architect-studio/common"
)

var ErrPostcodeNotFound = errors.New("postcode not found")

// PostcodeClient looks up UK postcodes on postcodes.io
type PostcodeClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// PostcodeInfo is the subset of a postcodes.io result the planning flow uses
type PostcodeInfo struct {
	Postcode      string  `json:"postcode"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	AdminDistrict string  `json:"admin_district"`
	Region        string  `json:"region"`
	Country       string  `json:"country"`
	Parish        string  `json:"parish"`
	Constituency  string  `json:"parliamentary_constituency"`
}

type postcodeResponse struct {
	Status int          `json:"status"`
	Result PostcodeInfo `json:"result"`
	Error  string       `json:"error"`
}

func NewPostcodeClient(baseURL string) *PostcodeClient {
	if baseURL == "" {
		baseURL = common.POSTCODES_API_BASE_URL
	}
	return &PostcodeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.With("service", "PostcodeClient"),
	}
}

// Lookup resolves a postcode to coordinates and its local planning authority
func (p *PostcodeClient) Lookup(ctx context.Context, postcode string) (*PostcodeInfo, error) {
	normalized := common.NormalizePostcode(postcode)
	if normalized == "" {
		return nil, fmt.Errorf("%w: %q", ErrPostcodeNotFound, postcode)
	}

	endpoint := p.baseURL + "/postcodes/" + url.PathEscape(normalized)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrPostcodeNotFound, normalized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("postcodes API error: status %d", resp.StatusCode)
	}

	var body postcodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	p.logger.Debug("Postcode resolved", "postcode", body.Result.Postcode, "authority", body.Result.AdminDistrict)
	return &body.Result, nil
}
