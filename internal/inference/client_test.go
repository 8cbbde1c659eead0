package inference_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/inference-studio/internal/audio/audiotest"
	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createMockInferenceServer routes requests by path, failing the test on unknown paths.
func createMockInferenceServer(
	t *testing.T,
	responses map[string]http.HandlerFunc,
) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, exists := responses[r.URL.Path]
		if !exists {
			t.Errorf("Unexpected request path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)

			return
		}

		handler(w, r)
	}))
	t.Cleanup(server.Close)

	return server
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func pngAsset(name string) core.Asset {
	return core.Asset{
		Name:        name,
		ContentType: "image/png",
		Data:        []byte("\x89PNG\r\n\x1a\nfake-png-" + name),
	}
}

func TestClassify_Success(t *testing.T) {
	t.Parallel()

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/predict": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)

			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			defer file.Close()

			data, _ := io.ReadAll(file)
			assert.Equal(t, "rex.png", header.Filename)
			assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
			assert.Equal(t, pngAsset("rex.png").Data, data)

			writeJSON(w, http.StatusOK, map[string]any{
				"filename":    "rex.png",
				"class_name":  "dog",
				"probability": 0.9,
			})
		},
	})

	client := inference.NewHTTPClient(server.URL+"/", 5*time.Second)

	result, err := client.Classify(context.Background(), pngAsset("rex.png"))
	require.NoError(t, err)

	assert.Equal(t, server.URL, client.BaseURL())
	assert.Equal(t, core.Classification{Filename: "rex.png", ClassName: "dog", Probability: 0.9}, result)
}

func TestClassify_ServerError(t *testing.T) {
	t.Parallel()

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/predict": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "cannot identify image file"})
		},
	})

	client := inference.NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.Classify(context.Background(), pngAsset("broken.png"))
	require.Error(t, err)

	var statusErr *inference.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "cannot identify image file", statusErr.Message)
}

func TestClassifyBatch_RepeatsFilesField(t *testing.T) {
	t.Parallel()

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/predict-multi": func(w http.ResponseWriter, r *http.Request) {
			err := r.ParseMultipartForm(1 << 20)
			if !assert.NoError(t, err) {
				return
			}

			files := r.MultipartForm.File["files"]
			assert.Len(t, files, 3)

			results := make([]map[string]any, 0, len(files))
			for i, header := range files {
				results = append(results, map[string]any{
					"filename":    header.Filename,
					"class_name":  []string{"cat", "dog"}[i%2],
					"probability": 0.5 + float64(i)/10,
				})
			}

			writeJSON(w, http.StatusOK, map[string]any{"results": results})
		},
	})

	client := inference.NewHTTPClient(server.URL, 5*time.Second)
	assets := []core.Asset{pngAsset("a.png"), pngAsset("b.png"), pngAsset("c.png")}

	results, err := client.ClassifyBatch(context.Background(), assets)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a.png", results[0].Filename)
	assert.Equal(t, "dog", results[1].ClassName)
	assert.InDelta(t, 0.7, results[2].Probability, 1e-9)
}

func TestClassifyBatch_Validation(t *testing.T) {
	t.Parallel()

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/predict-multi": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"detail": "ok"})
		},
	})

	client := inference.NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.ClassifyBatch(context.Background(), nil)
	require.ErrorIs(t, err, inference.ErrNoAssets)

	_, err = client.ClassifyBatch(context.Background(), []core.Asset{pngAsset("a.png")})
	require.ErrorIs(t, err, inference.ErrMissingResults)
}

func TestClassifyBatch_ReturnsResultsAsReported(t *testing.T) {
	t.Parallel()

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/predict-multi": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{
				{"filename": "a.png", "class_name": "dog", "probability": 0.91},
			}})
		},
	})

	client := inference.NewHTTPClient(server.URL, 5*time.Second)

	results, err := client.ClassifyBatch(context.Background(),
		[]core.Asset{pngAsset("a.png"), pngAsset("b.png")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.png", results[0].Filename)
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	clip := audiotest.WAV(t, audiotest.SampleRate)

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/tts": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Xin chào", r.FormValue("text"))
			assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write(clip)
		},
	})

	client := inference.NewHTTPClient(server.URL, 5*time.Second)

	audioData, err := client.Synthesize(context.Background(), "Xin chào")
	require.NoError(t, err)
	assert.Equal(t, clip, audioData)
}

func TestSynthesize_Failures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		handler     http.HandlerFunc
		wantMessage string
		wantErr     error
	}{
		{
			name: "json error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "lexicon missing"})
			},
			wantMessage: "lexicon missing",
		},
		{
			name: "validation detail",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"detail": []map[string]any{{"loc": []string{"body", "text"}, "msg": "field required"}},
				})
			},
			wantMessage: "field required",
		},
		{
			name: "plain text body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
			wantMessage: "upstream down",
		},
		{
			name: "json success is not audio",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			},
			wantErr: inference.ErrUnexpectedContentType,
		},
		{
			name: "empty audio",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/wav")
				w.WriteHeader(http.StatusOK)
			},
			wantErr: inference.ErrEmptyAudio,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := createMockInferenceServer(t, map[string]http.HandlerFunc{"/tts": testCase.handler})
			client := inference.NewHTTPClient(server.URL, 5*time.Second)

			_, err := client.Synthesize(context.Background(), "hello")
			require.Error(t, err)

			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)

				return
			}

			var statusErr *inference.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, testCase.wantMessage, statusErr.Message)
		})
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	client := inference.NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := client.Synthesize(context.Background(), "   ")
	require.ErrorIs(t, err, inference.ErrTextEmpty)
}

func TestSynthesize_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/tts": func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	defer close(release)

	client := inference.NewHTTPClient(server.URL, 50*time.Millisecond)

	_, err := client.Synthesize(context.Background(), "hello")
	require.Error(t, err)
}

func TestCorrect(t *testing.T) {
	t.Parallel()

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/correction": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "toi di hoc", r.URL.Query().Get("text"))

			writeJSON(w, http.StatusOK, map[string]any{"corrected": "Tôi đi học"})
		},
	})

	client := inference.NewHTTPClient(server.URL, 5*time.Second)

	corrected, err := client.Correct(context.Background(), "toi di hoc")
	require.NoError(t, err)
	assert.Equal(t, "Tôi đi học", corrected)
}

func TestCorrect_ErrorBody(t *testing.T) {
	t.Parallel()

	server := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/correction": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"error": "model busy"})
		},
	})

	client := inference.NewHTTPClient(server.URL, 5*time.Second)

	_, err := client.Correct(context.Background(), "x")

	var statusErr *inference.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "model busy", statusErr.Message)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	healthy := createMockInferenceServer(t, map[string]http.HandlerFunc{
		"/openapi.json": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"openapi": "3.1.0"})
		},
	})

	require.NoError(t, inference.NewHTTPClient(healthy.URL, time.Second).HealthCheck(context.Background()))

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	require.Error(t, inference.NewHTTPClient(unhealthy.URL, time.Second).HealthCheck(context.Background()))
}
