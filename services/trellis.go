package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"architect-studio/common"
)

// TrellisClient runs the TRELLIS image-to-3D model through the Replicate
// predictions API. It has no retexture counterpart.
type TrellisClient struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	logger     *slog.Logger
}

type replicatePredictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type replicatePrediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  any    `json:"error"`
	Logs   string `json:"logs"`
	Output *struct {
		ModelFile string `json:"model_file"`
	} `json:"output"`
}

func NewTrellisClient(baseURL, token, version string) *TrellisClient {
	if baseURL == "" {
		baseURL = common.REPLICATE_API_BASE_URL
	}
	if version == "" {
		version = common.DEFAULT_TRELLIS_VERSION
	}
	return &TrellisClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		version:    version,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.With("service", "TrellisClient"),
	}
}

func (t *TrellisClient) Name() string {
	return common.MESH_PROVIDER_TRELLIS
}

// CreateImageTo3DTask starts a prediction. The prompt is ignored; TRELLIS
// conditions on the image alone.
func (t *TrellisClient) CreateImageTo3DTask(ctx context.Context, imageURL, _ string) TaskResult {
	if t.token == "" {
		return taskFailure("Replicate API token not configured")
	}

	body, err := t.do(ctx, http.MethodPost, "/v1/predictions", replicatePredictionRequest{
		Version: t.version,
		Input: map[string]any{
			"images":          []string{imageURL},
			"generate_model":  true,
			"texture_size":    1024,
			"mesh_simplify":   0.95,
			"generate_color":  true,
			"generate_normal": false,
		},
	})
	if err != nil {
		t.logger.Error("Failed to create prediction", "error", err)
		return taskFailure("%v", err)
	}

	var pred replicatePrediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return taskFailure("failed to parse response: %v", err)
	}
	if pred.ID == "" {
		return taskFailure("no prediction id in response")
	}
	t.logger.Info("Created prediction", "task_id", pred.ID)
	return TaskResult{Success: true, TaskID: pred.ID}
}

func (t *TrellisClient) CheckImageTo3DTask(ctx context.Context, taskID string) TaskStatus {
	if t.token == "" {
		return statusFailure("Replicate API token not configured")
	}
	body, err := t.do(ctx, http.MethodGet, "/v1/predictions/"+taskID, nil)
	if err != nil {
		return statusFailure("%v", err)
	}

	var pred replicatePrediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return statusFailure("failed to parse response: %v", err)
	}

	switch pred.Status {
	case "succeeded":
		if pred.Output == nil || pred.Output.ModelFile == "" {
			return statusFailure("prediction succeeded without a model file")
		}
		return TaskStatus{Status: TaskCompleted, ModelURL: pred.Output.ModelFile, Progress: 100}
	case "failed", "canceled":
		msg := "prediction " + pred.Status
		if pred.Error != nil {
			msg = fmt.Sprint(pred.Error)
		}
		return TaskStatus{Status: TaskFailed, Error: msg}
	case "processing":
		return TaskStatus{Status: TaskPending, Progress: 50}
	default:
		return TaskStatus{Status: TaskPending}
	}
}

func (t *TrellisClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Error("Replicate API error", "status_code", resp.StatusCode, "response", truncate(string(body), 500))
		return nil, fmt.Errorf("replicate API error: status %d", resp.StatusCode)
	}
	return body, nil
}
