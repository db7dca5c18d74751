package sectionstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"architect-studio/services"
)

// Images is a scripted image generator. A non-empty Fail makes every call
// fail with that message.
type Images struct {
	mu    sync.Mutex
	Fail  string
	Calls []string
}

func (f *Images) GenerateIsometricFloorplan(ctx context.Context, sourceURL, prompt string) services.ImageResult {
	return f.result("isometric", sourceURL)
}

func (f *Images) GenerateVisualization(ctx context.Context, sourceURL, title, description string) services.ImageResult {
	return f.result("visualization:"+title, sourceURL)
}

func (f *Images) result(kind, source string) services.ImageResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, kind)
	if f.Fail != "" {
		return services.ImageResult{Success: false, Error: f.Fail}
	}
	return services.ImageResult{Success: true, ImageURL: fmt.Sprintf("https://cdn.test/%s/%d.png", strings.SplitN(kind, ":", 2)[0], len(f.Calls))}
}

// Mesh is a scripted 3D provider. Poll is returned from every status check.
type Mesh struct {
	mu       sync.Mutex
	Provider string
	Fail     string
	Poll     services.TaskStatus
	Created  int
	Polled   int

	// OnCreate runs at the start of every create call, before the task exists
	OnCreate func()
}

func (f *Mesh) Name() string {
	if f.Provider == "" {
		return "meshy"
	}
	return f.Provider
}

func (f *Mesh) CreateImageTo3DTask(ctx context.Context, imageURL, prompt string) services.TaskResult {
	if f.OnCreate != nil {
		f.OnCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created++
	if f.Fail != "" {
		return services.TaskResult{Success: false, Error: f.Fail}
	}
	return services.TaskResult{Success: true, TaskID: fmt.Sprintf("mesh-task-%d", f.Created)}
}

func (f *Mesh) CheckImageTo3DTask(ctx context.Context, taskID string) services.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polled++
	return f.Poll
}

func (f *Mesh) CreateRetextureTask(ctx context.Context, modelURL, prompt string) services.TaskResult {
	if f.OnCreate != nil {
		f.OnCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created++
	if f.Fail != "" {
		return services.TaskResult{Success: false, Error: f.Fail}
	}
	return services.TaskResult{Success: true, TaskID: fmt.Sprintf("retexture-task-%d", f.Created)}
}

func (f *Mesh) CheckRetextureTask(ctx context.Context, taskID string) services.TaskStatus {
	return f.CheckImageTo3DTask(ctx, taskID)
}

// Blob keeps objects in memory and serves them from https://blob.test/
type Blob struct {
	mu        sync.Mutex
	Objects   map[string][]byte
	Deleted   []string
	MirrorErr error
}

func NewBlob() *Blob {
	return &Blob{Objects: map[string][]byte{}}
}

func (b *Blob) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Objects[key] = data
	return "https://blob.test/" + key, nil
}

func (b *Blob) Mirror(ctx context.Context, url, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.MirrorErr != nil {
		return "", b.MirrorErr
	}
	b.Objects[key] = []byte(url)
	return "https://blob.test/" + key, nil
}

func (b *Blob) Delete(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key, ok := strings.CutPrefix(url, "https://blob.test/")
	if !ok {
		return errors.New("not a blob url")
	}
	delete(b.Objects, key)
	b.Deleted = append(b.Deleted, url)
	return nil
}

// Advisor is a scripted planning advisor
type Advisor struct {
	Analysis services.AnalysisResult
	Options  services.OptionsResult
	Inputs   []services.PropertyInput
}

func (a *Advisor) AnalyzeProperty(ctx context.Context, in services.PropertyInput) services.AnalysisResult {
	a.Inputs = append(a.Inputs, in)
	return a.Analysis
}

func (a *Advisor) GenerateExtensionOptions(ctx context.Context, in services.PropertyInput) services.OptionsResult {
	return a.Options
}

// Postcodes answers every lookup with Info, or Err when set
type Postcodes struct {
	Info *services.PostcodeInfo
	Err  error
}

func (p *Postcodes) Lookup(ctx context.Context, postcode string) (*services.PostcodeInfo, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Info, nil
}
