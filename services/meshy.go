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

// MeshyClient wraps the Meshy image-to-3D and retexture APIs
type MeshyClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

type meshyImageTo3DRequest struct {
	ImageURL      string `json:"image_url"`
	EnablePBR     bool   `json:"enable_pbr"`
	ShouldRemesh  bool   `json:"should_remesh"`
	ShouldTexture bool   `json:"should_texture"`
	TexturePrompt string `json:"texture_prompt,omitempty"`
}

type meshyRetextureRequest struct {
	ModelURL         string `json:"model_url"`
	TextStylePrompt  string `json:"text_style_prompt"`
	EnableOriginalUV bool   `json:"enable_original_uv"`
	EnablePBR        bool   `json:"enable_pbr"`
}

type meshyCreateResponse struct {
	Result string `json:"result"`
}

type meshyTask struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ModelURLs struct {
		GLB string `json:"glb"`
	} `json:"model_urls"`
	TaskError struct {
		Message string `json:"message"`
	} `json:"task_error"`
}

func NewMeshyClient(baseURL, apiKey string) *MeshyClient {
	if baseURL == "" {
		baseURL = common.MESHY_API_BASE_URL
	}
	return &MeshyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.With("service", "MeshyClient"),
	}
}

func (m *MeshyClient) Name() string {
	return common.MESH_PROVIDER_MESHY
}

// CreateImageTo3DTask starts turning an image into a textured GLB
func (m *MeshyClient) CreateImageTo3DTask(ctx context.Context, imageURL, prompt string) TaskResult {
	if m.apiKey == "" {
		return taskFailure("Meshy API key not configured")
	}
	id, err := m.create(ctx, "/openapi/v1/image-to-3d", meshyImageTo3DRequest{
		ImageURL:      imageURL,
		EnablePBR:     true,
		ShouldRemesh:  true,
		ShouldTexture: true,
		TexturePrompt: prompt,
	})
	if err != nil {
		m.logger.Error("Failed to create image-to-3d task", "error", err)
		return taskFailure("%v", err)
	}
	m.logger.Info("Created image-to-3d task", "task_id", id)
	return TaskResult{Success: true, TaskID: id}
}

func (m *MeshyClient) CheckImageTo3DTask(ctx context.Context, taskID string) TaskStatus {
	return m.check(ctx, "/openapi/v1/image-to-3d/"+taskID)
}

// CreateRetextureTask re-materials an existing GLB from a text prompt
func (m *MeshyClient) CreateRetextureTask(ctx context.Context, modelURL, prompt string) TaskResult {
	if m.apiKey == "" {
		return taskFailure("Meshy API key not configured")
	}
	id, err := m.create(ctx, "/openapi/v1/retexture", meshyRetextureRequest{
		ModelURL:         modelURL,
		TextStylePrompt:  prompt,
		EnableOriginalUV: true,
		EnablePBR:        true,
	})
	if err != nil {
		m.logger.Error("Failed to create retexture task", "error", err)
		return taskFailure("%v", err)
	}
	m.logger.Info("Created retexture task", "task_id", id)
	return TaskResult{Success: true, TaskID: id}
}

func (m *MeshyClient) CheckRetextureTask(ctx context.Context, taskID string) TaskStatus {
	return m.check(ctx, "/openapi/v1/retexture/"+taskID)
}

func (m *MeshyClient) create(ctx context.Context, path string, payload any) (string, error) {
	body, err := m.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}
	var resp meshyCreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Result == "" {
		return "", fmt.Errorf("no task id in response")
	}
	return resp.Result, nil
}

func (m *MeshyClient) check(ctx context.Context, path string) TaskStatus {
	if m.apiKey == "" {
		return statusFailure("Meshy API key not configured")
	}
	body, err := m.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return statusFailure("%v", err)
	}

	var task meshyTask
	if err := json.Unmarshal(body, &task); err != nil {
		return statusFailure("failed to parse response: %v", err)
	}

	switch task.Status {
	case "SUCCEEDED":
		if task.ModelURLs.GLB == "" {
			return statusFailure("task succeeded without a GLB")
		}
		return TaskStatus{Status: TaskCompleted, ModelURL: task.ModelURLs.GLB, Progress: 100}
	case "FAILED", "CANCELED", "EXPIRED":
		msg := task.TaskError.Message
		if msg == "" {
			msg = "task " + strings.ToLower(task.Status)
		}
		return TaskStatus{Status: TaskFailed, Progress: task.Progress, Error: msg}
	default:
		return TaskStatus{Status: TaskPending, Progress: task.Progress}
	}
}

func (m *MeshyClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Error("Meshy API error", "status_code", resp.StatusCode, "response", truncate(string(body), 500))
		return nil, fmt.Errorf("meshy API error: status %d", resp.StatusCode)
	}
	return body, nil
}
