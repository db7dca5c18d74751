package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"architect-studio/utils"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const GEMINI_SCOPES = "https://www.googleapis.com/auth/generative-language"

// Assets is the blob storage surface the generation connectors need
type Assets interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// GeminiClient calls the Gemini generateContent REST API. Authentication is
// an API key, or service-account credentials when a credentials file is set.
type GeminiClient struct {
	baseURL     string
	apiKey      string
	textModel   string
	imageModel  string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	assets      Assets
	prompts     *utils.PromptBuilder
	logger      *slog.Logger
}

type GeminiConfig struct {
	BaseURL         string
	APIKey          string
	CredentialsFile string
	TextModel       string
	ImageModel      string
}

// GeminiRequest represents the request body for generateContent
type GeminiRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inlineData,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiGenerationConfig struct {
	Temperature        float32  `json:"temperature,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// GeminiResponse represents the response from generateContent
type GeminiResponse struct {
	Candidates     []GeminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *GeminiUsage `json:"usageMetadata,omitempty"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type GeminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// PropertyInput describes the property under planning assessment
type PropertyInput struct {
	PropertyImageURL string
	FloorplanURL     string
	Address          string
	Postcode         string
	LocalAuthority   string
	Analysis         json.RawMessage
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, assets Assets, prompts *utils.PromptBuilder) (*GeminiClient, error) {
	client := &GeminiClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		textModel:  cfg.TextModel,
		imageModel: cfg.ImageModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		assets:     assets,
		prompts:    prompts,
		logger:     slog.With("service", "GeminiClient"),
	}

	if cfg.CredentialsFile != "" {
		credData, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, credData, GEMINI_SCOPES)
		if err != nil {
			return nil, fmt.Errorf("failed to create credentials: %w", err)
		}
		client.tokenSource = creds.TokenSource
	} else if cfg.APIKey == "" {
		slog.Warn("Gemini API key not configured; generation requests will fail")
	}

	slog.Info("GeminiClient initialized", "text_model", cfg.TextModel, "image_model", cfg.ImageModel)
	return client, nil
}

// GenerateIsometricFloorplan renders a 2D floorplan as an isometric view
func (c *GeminiClient) GenerateIsometricFloorplan(ctx context.Context, sourceURL, prompt string) ImageResult {
	text, err := c.prompts.Build(utils.PROMPT_ISOMETRIC, map[string]string{"user_prompt": prompt})
	if err != nil {
		return imageFailure("%v", err)
	}
	return c.editImage(ctx, sourceURL, text, "isometric")
}

// GenerateVisualization renders a property photo with proposed work applied
func (c *GeminiClient) GenerateVisualization(ctx context.Context, sourceURL, title, description string) ImageResult {
	text, err := c.prompts.Build(utils.PROMPT_VISUALIZATION, map[string]string{
		"title":       title,
		"description": description,
	})
	if err != nil {
		return imageFailure("%v", err)
	}
	return c.editImage(ctx, sourceURL, text, "visualizations")
}

// AnalyzeProperty produces the planning assessment and suggested modifications
func (c *GeminiClient) AnalyzeProperty(ctx context.Context, in PropertyInput) AnalysisResult {
	floorplanNote := ""
	if in.FloorplanURL != "" {
		floorplanNote = " and floorplan"
	}
	text, err := c.prompts.Build(utils.PROMPT_ANALYSIS, map[string]string{
		"address":         orUnknown(in.Address),
		"postcode":        orUnknown(in.Postcode),
		"local_authority": orUnknown(in.LocalAuthority),
		"floorplan_note":  floorplanNote,
	})
	if err != nil {
		return AnalysisResult{Error: err.Error()}
	}

	images := []string{in.PropertyImageURL}
	if in.FloorplanURL != "" {
		images = append(images, in.FloorplanURL)
	}

	raw, err := c.generateJSON(ctx, text, images)
	if err != nil {
		c.logger.Error("Property analysis failed", "error", err)
		return AnalysisResult{Error: err.Error()}
	}

	var doc struct {
		Modifications json.RawMessage `json:"modifications"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return AnalysisResult{Error: fmt.Sprintf("analysis is not valid JSON: %v", err)}
	}
	if len(doc.Modifications) == 0 || string(doc.Modifications) == "null" {
		doc.Modifications = json.RawMessage("[]")
	}

	return AnalysisResult{Success: true, Analysis: raw, Modifications: doc.Modifications}
}

// GenerateExtensionOptions proposes basic, standard and premium extensions
func (c *GeminiClient) GenerateExtensionOptions(ctx context.Context, in PropertyInput) OptionsResult {
	text, err := c.prompts.Build(utils.PROMPT_OPTIONS, map[string]string{
		"address":         orUnknown(in.Address),
		"postcode":        orUnknown(in.Postcode),
		"local_authority": orUnknown(in.LocalAuthority),
		"analysis":        string(in.Analysis),
	})
	if err != nil {
		return OptionsResult{Error: err.Error()}
	}

	raw, err := c.generateJSON(ctx, text, []string{in.PropertyImageURL})
	if err != nil {
		c.logger.Error("Extension options failed", "error", err)
		return OptionsResult{Error: err.Error()}
	}

	var doc struct {
		Options json.RawMessage `json:"options"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Options) == 0 || string(doc.Options) == "null" {
		return OptionsResult{Error: "response contained no options"}
	}
	return OptionsResult{Success: true, Options: doc.Options}
}

func (c *GeminiClient) editImage(ctx context.Context, sourceURL, prompt, folder string) ImageResult {
	part, err := c.inlineImage(ctx, sourceURL)
	if err != nil {
		return imageFailure("failed to load source image: %v", err)
	}

	resp, err := c.generateContent(ctx, c.imageModel, GeminiRequest{
		Contents: []GeminiContent{{
			Role:  "user",
			Parts: []GeminiPart{{Text: prompt}, part},
		}},
		GenerationConfig: &GeminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	})
	if err != nil {
		c.logger.Error("Image generation failed", "error", err)
		return imageFailure("%v", err)
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "image/") {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return imageFailure("failed to decode generated image: %v", err)
			}
			ext := ".png"
			if p.InlineData.MimeType == "image/jpeg" {
				ext = ".jpg"
			}
			url, err := c.assets.Put(ctx, AssetKey(folder, "generated", ext), data, p.InlineData.MimeType)
			if err != nil {
				return imageFailure("failed to store generated image: %v", err)
			}
			return ImageResult{Success: true, ImageURL: url}
		}
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return imageFailure("request blocked: %s", resp.PromptFeedback.BlockReason)
	}
	return imageFailure("no image in response")
}

func (c *GeminiClient) generateJSON(ctx context.Context, prompt string, imageURLs []string) (json.RawMessage, error) {
	parts := []GeminiPart{{Text: prompt}}
	for _, url := range imageURLs {
		part, err := c.inlineImage(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to load image: %w", err)
		}
		parts = append(parts, part)
	}

	resp, err := c.generateContent(ctx, c.textModel, GeminiRequest{
		Contents: []GeminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &GeminiGenerationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, err
	}

	var textParts []string
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				textParts = append(textParts, p.Text)
			}
		}
		if len(textParts) > 0 {
			break
		}
	}
	if len(textParts) == 0 {
		return nil, fmt.Errorf("no text in response")
	}

	text := stripCodeFence(strings.Join(textParts, ""))
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return json.RawMessage(text), nil
}

func (c *GeminiClient) inlineImage(ctx context.Context, url string) (GeminiPart, error) {
	data, contentType, err := c.assets.Fetch(ctx, url)
	if err != nil {
		return GeminiPart{}, err
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	return GeminiPart{InlineData: &GeminiInlineData{
		MimeType: contentType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}, nil
}

func (c *GeminiClient) generateContent(ctx context.Context, model string, reqBody GeminiRequest) (*GeminiResponse, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	c.logger.Debug("Calling Gemini endpoint", "endpoint", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to get access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	} else {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Gemini API error", "status_code", resp.StatusCode, "response", truncate(string(body), 500))
		return nil, fmt.Errorf("gemini API error: status %d", resp.StatusCode)
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if geminiResp.UsageMetadata != nil {
		c.logger.Info("Token usage",
			"model", model,
			"prompt_tokens", geminiResp.UsageMetadata.PromptTokenCount,
			"output_tokens", geminiResp.UsageMetadata.CandidatesTokenCount,
		)
	}
	return &geminiResp, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
