package services

import (
	"context"
	"encoding/json"
	"fmt"
)

// ImageResult is what an image-generating connector hands back. Failures are
// carried in Error rather than returned, so callers can move the entity to
// a safe status without unwinding.
type ImageResult struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TaskResult reports the creation of an asynchronous provider task
type TaskResult struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// TaskStatus is a snapshot of an asynchronous provider task
type TaskStatus struct {
	Status   TaskState `json:"status"`
	ModelURL string    `json:"modelUrl,omitempty"`
	Progress int       `json:"progress"`
	Error    string    `json:"error,omitempty"`
}

// AnalysisResult carries the planning assessment document
type AnalysisResult struct {
	Success       bool            `json:"success"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// OptionsResult carries tiered extension options
type OptionsResult struct {
	Success bool            `json:"success"`
	Options json.RawMessage `json:"options,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MeshGenerator turns a rendered image into a 3D model asynchronously
type MeshGenerator interface {
	Name() string
	CreateImageTo3DTask(ctx context.Context, imageURL, prompt string) TaskResult
	CheckImageTo3DTask(ctx context.Context, taskID string) TaskStatus
}

// Retexturer re-materials an existing 3D model asynchronously
type Retexturer interface {
	CreateRetextureTask(ctx context.Context, modelURL, prompt string) TaskResult
	CheckRetextureTask(ctx context.Context, taskID string) TaskStatus
}

func imageFailure(format string, args ...any) ImageResult {
	return ImageResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

func taskFailure(format string, args ...any) TaskResult {
	return TaskResult{Success: false, TaskID: "", Error: fmt.Sprintf(format, args...)}
}

func statusFailure(format string, args ...any) TaskStatus {
	return TaskStatus{Status: TaskFailed, Error: fmt.Sprintf(format, args...)}
}
