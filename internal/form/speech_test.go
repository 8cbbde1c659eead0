package form_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/inference-studio/internal/audio/audiotest"
	"github.com/book-expert/inference-studio/internal/form"
	"github.com/book-expert/inference-studio/internal/inference"
	"github.com/book-expert/inference-studio/internal/intake"
	"github.com/book-expert/inference-studio/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speechFixture struct {
	form      *form.SpeechForm
	store     *objectstore.MemoryStore
	publisher *recordingPublisher
}

func newSpeechFixture(t *testing.T, handlers map[string]http.HandlerFunc) speechFixture {
	t.Helper()

	client := newHTTPClient(t, handlers)
	store := objectstore.NewMemory()
	publisher := &recordingPublisher{}

	speech := form.NewSpeechForm(form.SpeechServices{
		Synthesizer: client,
		Corrector:   client,
		Store:       store,
		Publisher:   publisher,
	}, "visitor-1", 5*time.Second, createTestLogger(t))

	return speechFixture{form: speech, store: store, publisher: publisher}
}

func wavHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	clip := audiotest.WAV(t, audiotest.SampleRate)

	return func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.FormValue("text"))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(clip)
	}
}

func TestSpeechForm_SubmitStoresAndAnnouncesClip(t *testing.T) {
	t.Parallel()

	fixture := newSpeechFixture(t, map[string]http.HandlerFunc{"/tts": wavHandler(t)})

	require.NoError(t, fixture.form.SetText("Xin chào"))
	require.NoError(t, fixture.form.Submit(context.Background()))

	snapshot := fixture.form.Snapshot()
	assert.Equal(t, form.Succeeded, snapshot.State)
	assert.Empty(t, snapshot.Error)
	require.NotNil(t, snapshot.Clip)
	assert.Equal(t, "/audio/"+snapshot.Clip.Key, snapshot.Clip.URL)
	assert.InDelta(t, float64(time.Second), float64(snapshot.Clip.Info.Duration), float64(50*time.Millisecond))

	data, err := fixture.store.Download(context.Background(), snapshot.Clip.Key)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	published := fixture.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, snapshot.Clip.Key, published[0].AudioKey)
	assert.Equal(t, "visitor-1", published[0].Header.WorkflowID)

	// A second clip replaces the first one in the store.
	require.NoError(t, fixture.form.Submit(context.Background()))
	assert.Equal(t, 1, fixture.store.Len())
	assert.NotEqual(t, snapshot.Clip.Key, fixture.form.Snapshot().Clip.Key)
}

func TestSpeechForm_EmptyTextIsRefusedLocally(t *testing.T) {
	t.Parallel()

	var called atomic.Bool

	fixture := newSpeechFixture(t, map[string]http.HandlerFunc{
		"/tts": func(w http.ResponseWriter, _ *http.Request) {
			called.Store(true)

			w.WriteHeader(http.StatusOK)
		},
	})

	require.NoError(t, fixture.form.SetText("   "))

	err := fixture.form.Submit(context.Background())
	require.ErrorIs(t, err, intake.ErrEmptyText)

	snapshot := fixture.form.Snapshot()
	assert.Equal(t, form.Idle, snapshot.State)
	assert.Equal(t, form.MessageEmptyText, snapshot.Error)
	assert.False(t, called.Load())
}

func TestSpeechForm_MessagesAreVietnamese(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Vui lòng nhập văn bản cần chuyển đổi", form.MessageEmptyText)
	assert.Equal(t, "Có lỗi xảy ra khi tạo âm thanh", form.MessageSynthesisError)
	assert.Equal(t, "Không thể kết nối đến máy chủ. Vui lòng kiểm tra lại.", form.MessageConnection)
}

func TestSpeechForm_ErrorMessages(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server message",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": "Text is too long"})
			},
			want: "Text is too long",
		},
		{
			name: "not a wav file",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/wav")
				_, _ = w.Write([]byte("definitely not audio"))
			},
			want: form.MessageSynthesisError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fixture := newSpeechFixture(t, map[string]http.HandlerFunc{"/tts": tc.handler})
			require.NoError(t, fixture.form.SetText("Xin chào"))

			err := fixture.form.Submit(context.Background())
			require.Error(t, err)

			snapshot := fixture.form.Snapshot()
			assert.Equal(t, form.Failed, snapshot.State)
			assert.False(t, snapshot.Loading)
			assert.Equal(t, tc.want, snapshot.Error)
			assert.Nil(t, snapshot.Clip)
			assert.Zero(t, fixture.store.Len())
		})
	}
}

func TestSpeechForm_ConnectionFailure(t *testing.T) {
	t.Parallel()

	speech := form.NewSpeechForm(form.SpeechServices{
		Synthesizer: inference.NewHTTPClient("http://127.0.0.1:1", time.Second),
		Store:       objectstore.NewMemory(),
		Publisher:   &recordingPublisher{},
	}, "visitor-1", time.Second, createTestLogger(t))

	require.NoError(t, speech.SetText("Xin chào"))
	require.Error(t, speech.Submit(context.Background()))
	assert.Equal(t, form.MessageConnection, speech.Snapshot().Error)
}

func TestSpeechForm_UseExampleAndClear(t *testing.T) {
	t.Parallel()

	fixture := newSpeechFixture(t, map[string]http.HandlerFunc{"/tts": wavHandler(t)})

	require.NoError(t, fixture.form.UseExample(0))
	assert.Equal(t, form.Examples[0], fixture.form.Snapshot().Text)
	require.ErrorIs(t, fixture.form.UseExample(len(form.Examples)), form.ErrExampleIndex)

	require.NoError(t, fixture.form.Submit(context.Background()))
	require.Equal(t, 1, fixture.store.Len())

	fixture.form.Clear()

	snapshot := fixture.form.Snapshot()
	assert.Equal(t, form.Idle, snapshot.State)
	assert.Empty(t, snapshot.Text)
	assert.Empty(t, snapshot.Error)
	assert.Nil(t, snapshot.Clip)
	assert.Zero(t, fixture.store.Len())
}

func TestSpeechForm_Correct(t *testing.T) {
	t.Parallel()

	fixture := newSpeechFixture(t, map[string]http.HandlerFunc{
		"/correction": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "xin chao", r.URL.Query().Get("text"))
			writeJSON(t, w, http.StatusOK, map[string]string{"corrected": "Xin chào"})
		},
	})

	require.NoError(t, fixture.form.SetText("xin chao"))
	require.NoError(t, fixture.form.Correct(context.Background()))

	snapshot := fixture.form.Snapshot()
	assert.Equal(t, "Xin chào", snapshot.Text)
	assert.Equal(t, form.Succeeded, snapshot.State)
}

// blockingSynthesizer holds every call until release is closed.
type blockingSynthesizer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	audio   []byte
}

func (b *blockingSynthesizer) Synthesize(ctx context.Context, _ string) ([]byte, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}

	select {
	case <-b.release:
		return b.audio, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSpeechForm_ActionsWhilePendingAreNoOps(t *testing.T) {
	t.Parallel()

	backend := &blockingSynthesizer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		audio:   audiotest.WAV(t, audiotest.SampleRate),
	}
	store := objectstore.NewMemory()

	speech := form.NewSpeechForm(form.SpeechServices{
		Synthesizer: backend,
		Corrector:   inference.NewHTTPClient("http://127.0.0.1:1", time.Second),
		Store:       store,
		Publisher:   &recordingPublisher{},
	}, "visitor-1", 5*time.Second, createTestLogger(t))

	require.NoError(t, speech.SetText("Xin chào"))
	require.NoError(t, speech.Start(context.Background()))
	<-backend.started

	assert.True(t, speech.Loading())
	require.ErrorIs(t, speech.Submit(context.Background()), form.ErrBusy)
	require.ErrorIs(t, speech.Correct(context.Background()), form.ErrBusy)
	require.ErrorIs(t, speech.UseExample(1), form.ErrBusy)
	require.ErrorIs(t, speech.SetText("khác"), form.ErrBusy)

	close(backend.release)
	waitForState(t, speech.State, form.Succeeded)

	snapshot := speech.Snapshot()
	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, "Xin chào", snapshot.Text)
	require.NotNil(t, snapshot.Clip)
	assert.Equal(t, 1, store.Len())
}
