package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"architect-studio/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeshyCreateAndCheck(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/openapi/v1/image-to-3d":
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.Write([]byte(`{"result":"task-123"}`))
		case r.URL.Path == "/openapi/v1/image-to-3d/task-123":
			w.Write([]byte(`{"id":"task-123","status":"SUCCEEDED","progress":100,"model_urls":{"glb":"https://assets.meshy.ai/m.glb"}}`))
		case r.URL.Path == "/openapi/v1/image-to-3d/task-pending":
			w.Write([]byte(`{"id":"task-pending","status":"IN_PROGRESS","progress":40}`))
		case r.URL.Path == "/openapi/v1/image-to-3d/task-failed":
			w.Write([]byte(`{"id":"task-failed","status":"FAILED","task_error":{"message":"bad image"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := NewMeshyClient(srv.URL, "secret")
	ctx := context.Background()

	res := m.CreateImageTo3DTask(ctx, "https://cdn/iso.png", "")
	assert.True(t, res.Success)
	assert.Equal(t, "task-123", res.TaskID)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "https://cdn/iso.png", gotBody["image_url"])

	status := m.CheckImageTo3DTask(ctx, "task-123")
	assert.Equal(t, TaskCompleted, status.Status)
	assert.Equal(t, "https://assets.meshy.ai/m.glb", status.ModelURL)

	status = m.CheckImageTo3DTask(ctx, "task-pending")
	assert.Equal(t, TaskPending, status.Status)
	assert.Equal(t, 40, status.Progress)

	status = m.CheckImageTo3DTask(ctx, "task-failed")
	assert.Equal(t, TaskFailed, status.Status)
	assert.Equal(t, "bad image", status.Error)
}

func TestMeshyNeverReturnsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMeshyClient(srv.URL, "secret")
	res := m.CreateRetextureTask(context.Background(), "https://cdn/m.glb", "brick")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.TaskID)

	status := m.CheckRetextureTask(context.Background(), "x")
	assert.Equal(t, TaskFailed, status.Status)

	unconfigured := NewMeshyClient(srv.URL, "")
	assert.False(t, unconfigured.CreateImageTo3DTask(context.Background(), "u", "").Success)
}

func TestMeshyRetextureSendsModelURL(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openapi/v1/retexture", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"result":"rt-1"}`))
	}))
	defer srv.Close()

	res := NewMeshyClient(srv.URL, "k").CreateRetextureTask(context.Background(), "https://cdn/base.glb", "weathered oak")
	assert.True(t, res.Success)
	assert.Equal(t, "rt-1", res.TaskID)
	assert.Equal(t, "https://cdn/base.glb", gotBody["model_url"])
	assert.Equal(t, "weathered oak", gotBody["text_style_prompt"])
}

func TestTrellisPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
			var req replicatePredictionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "v1", req.Version)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
		case r.URL.Path == "/v1/predictions/pred-1":
			w.Write([]byte(`{"id":"pred-1","status":"succeeded","output":{"model_file":"https://replicate.delivery/out.glb"}}`))
		case r.URL.Path == "/v1/predictions/pred-2":
			w.Write([]byte(`{"id":"pred-2","status":"failed","error":"CUDA out of memory"}`))
		default:
			w.Write([]byte(`{"id":"pred-3","status":"processing"}`))
		}
	}))
	defer srv.Close()

	tr := NewTrellisClient(srv.URL, "tok", "v1")
	ctx := context.Background()

	res := tr.CreateImageTo3DTask(ctx, "https://cdn/iso.png", "ignored")
	assert.True(t, res.Success)
	assert.Equal(t, "pred-1", res.TaskID)

	status := tr.CheckImageTo3DTask(ctx, "pred-1")
	assert.Equal(t, TaskCompleted, status.Status)
	assert.Equal(t, "https://replicate.delivery/out.glb", status.ModelURL)

	status = tr.CheckImageTo3DTask(ctx, "pred-2")
	assert.Equal(t, TaskFailed, status.Status)
	assert.Equal(t, "CUDA out of memory", status.Error)

	status = tr.CheckImageTo3DTask(ctx, "pred-3")
	assert.Equal(t, TaskPending, status.Status)
}

func TestPostcodeLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/postcodes/SW1A 1AA" {
			w.Write([]byte(`{"status":200,"result":{"postcode":"SW1A 1AA","latitude":51.501,"longitude":-0.141,"admin_district":"Westminster"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":404,"error":"Postcode not found"}`))
	}))
	defer srv.Close()

	p := NewPostcodeClient(srv.URL)
	info, err := p.Lookup(context.Background(), "sw1a1aa")
	require.NoError(t, err)
	assert.Equal(t, "Westminster", info.AdminDistrict)
	assert.InDelta(t, 51.501, info.Latitude, 0.0001)

	_, err = p.Lookup(context.Background(), "ZZ9 9ZZ")
	assert.ErrorIs(t, err, ErrPostcodeNotFound)

	_, err = p.Lookup(context.Background(), "not a postcode")
	assert.ErrorIs(t, err, ErrPostcodeNotFound)
}

type fakeAssets struct {
	stored map[string][]byte
}

func (f *fakeAssets) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeAssets) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return []byte("\x89PNG\r\n\x1a\nsource"), "image/png", nil
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *fakeAssets) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prompts, err := utils.NewPromptBuilder("", 0)
	require.NoError(t, err)

	assets := &fakeAssets{}
	client, err := NewGeminiClient(context.Background(), GeminiConfig{
		BaseURL:    srv.URL,
		APIKey:     "key",
		TextModel:  "text-model",
		ImageModel: "image-model",
	}, assets, prompts)
	require.NoError(t, err)
	return client, assets
}

func TestGeminiIsometric(t *testing.T) {
	image := base64.StdEncoding.EncodeToString([]byte("rendered"))
	client, assets := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/image-model:generateContent", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-goog-api-key"))

		var req GeminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Contains(t, req.Contents[0].Parts[0].Text, "brick walls")
		assert.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)

		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"here"},{"inlineData":{"mimeType":"image/png","data":"` + image + `"}}]}}]}`))
	})

	res := client.GenerateIsometricFloorplan(context.Background(), "https://cdn/plan.png", "brick walls")
	require.True(t, res.Success, res.Error)
	assert.True(t, strings.HasPrefix(res.ImageURL, "https://cdn.example.com/isometric/"))
	require.Len(t, assets.stored, 1)
	for _, data := range assets.stored {
		assert.Equal(t, []byte("rendered"), data)
	}
}

func TestGeminiFailuresAreResults(t *testing.T) {
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := client.GenerateIsometricFloorplan(context.Background(), "https://cdn/plan.png", "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "429")

	analysis := client.AnalyzeProperty(context.Background(), PropertyInput{PropertyImageURL: "https://cdn/house.jpg"})
	assert.False(t, analysis.Success)
}

func TestGeminiAnalyzeProperty(t *testing.T) {
	doc := "```json\n" + `{"summary":"ok","pdrEligible":true,"modifications":[{"id":"rear-extension","title":"Rear extension"}]}` + "\n```"
	encoded, _ := json.Marshal(doc)
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		var req GeminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		assert.Contains(t, req.Contents[0].Parts[0].Text, "Westminster")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":` + string(encoded) + `}]}}]}`))
	})

	res := client.AnalyzeProperty(context.Background(), PropertyInput{
		PropertyImageURL: "https://cdn/house.jpg",
		LocalAuthority:   "Westminster",
	})
	require.True(t, res.Success, res.Error)

	var mods []map[string]any
	require.NoError(t, json.Unmarshal(res.Modifications, &mods))
	require.Len(t, mods, 1)
	assert.Equal(t, "rear-extension", mods[0]["id"])
}

func TestGeminiExtensionOptions(t *testing.T) {
	doc := `{"options":[{"tier":"basic","title":"Single storey"},{"tier":"premium","title":"Wraparound"}]}`
	encoded, _ := json.Marshal(doc)
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":` + string(encoded) + `}]}}]}`))
	})

	res := client.GenerateExtensionOptions(context.Background(), PropertyInput{PropertyImageURL: "https://cdn/house.jpg"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, string(res.Options), "Wraparound")
}
