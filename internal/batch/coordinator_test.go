package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"image-uploader-go/internal/media"
	"image-uploader-go/internal/media/mediatest"
	"image-uploader-go/internal/metrics"
	"image-uploader-go/internal/presets"
	"image-uploader-go/internal/statistics"
	"image-uploader-go/internal/storage"
	"image-uploader-go/internal/transcoder"
	"image-uploader-go/internal/validation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTranscoder struct {
	mock.Mock
}

func (m *mockTranscoder) Transcode(ctx context.Context, input media.RawInput, opts transcoder.Options) transcoder.Outcome {
	args := m.Called(ctx, input, opts)
	return args.Get(0).(transcoder.Outcome)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Record(ctx context.Context, folder string, item Item) error {
	return m.Called(ctx, folder, item).Error(0)
}

// fakeStore records uploads and fails for configured file names.
type fakeStore struct {
	mu     sync.Mutex
	puts   []string
	failOn map[string]error
	onPut  func()
}

func (s *fakeStore) Put(_ context.Context, data []byte, mimeType, folder, fileName string) (*storage.UploadOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onPut != nil {
		s.onPut()
	}
	if err := s.failOn[fileName]; err != nil {
		return nil, err
	}
	s.puts = append(s.puts, fileName)
	return &storage.UploadOutcome{
		URL:         "https://cdn.test/" + folder + "/" + fileName,
		StoragePath: folder + "/" + fileName,
		FileName:    fileName,
		ByteSize:    int64(len(data)),
	}, nil
}

func (s *fakeStore) Delete(context.Context, string) error { return nil }
func (s *fakeStore) Close() error                         { return nil }

func looseRules() validation.RuleSet {
	return validation.RuleSet{
		MaxSizeBytes:     1 << 20,
		AllowedMimeTypes: []string{"image/png", "image/jpeg"},
	}
}

func webpOptions() transcoder.Options {
	return transcoder.Options{Quality: 0.8, Format: media.FormatWEBP}
}

func okOutcome(in media.RawInput) transcoder.Outcome {
	out := media.RawInput{
		Name:     media.ReplaceExtension(in.Name, media.FormatWEBP),
		MimeType: "image/webp",
		Data:     []byte("encoded"),
	}
	return transcoder.Outcome{OK: true, InputBytes: in.Size(), OutputBytes: 7, File: &out, Attempts: 1}
}

func input(name, mime string) media.RawInput {
	return media.NewRawInput(name, mime, []byte("payload-"+name))
}

func TestRunPreservesOrderAndCounts(t *testing.T) {
	inputs := []media.RawInput{
		input("a.png", "image/png"),
		input("b.gif", "image/gif"),
		input("c.png", "image/png"),
		input("d.jpg", "image/jpeg"),
		input("e.png", "image/png"),
	}

	tr := new(mockTranscoder)
	tr.On("Transcode", mock.Anything, inputs[0], mock.Anything).Return(okOutcome(inputs[0]))
	tr.On("Transcode", mock.Anything, inputs[2], mock.Anything).Return(transcoder.Outcome{
		Error: "decode image: unexpected EOF", File: &inputs[2],
	})
	tr.On("Transcode", mock.Anything, inputs[3], mock.Anything).Return(okOutcome(inputs[3]))
	tr.On("Transcode", mock.Anything, inputs[4], mock.Anything).Return(okOutcome(inputs[4]))

	store := &fakeStore{failOn: map[string]error{"d.webp": errors.New("bucket unavailable")}}
	c := NewCoordinator(nil, tr, store, nil)

	res, err := c.Run(context.Background(), inputs, "posts", looseRules(), webpOptions(), nil)
	require.NoError(t, err)

	require.Len(t, res.Items, len(inputs))
	for i, it := range res.Items {
		assert.Equal(t, inputs[i].Name, it.FileName)
		assert.Equal(t, i, it.Index)
		assert.True(t, it.State.Terminal())
	}
	assert.Equal(t, StateCompleted, res.Items[0].State)
	assert.Equal(t, StateInvalid, res.Items[1].State)
	assert.Equal(t, StateTranscodeFailed, res.Items[2].State)
	assert.Equal(t, StateUploadFailed, res.Items[3].State)
	assert.Equal(t, StateCompleted, res.Items[4].State)

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 3, res.ErrorCount)
	assert.Equal(t, len(inputs), res.SuccessCount+res.ErrorCount)

	assert.Equal(t, "decode image: unexpected EOF", res.Items[2].Error)
	assert.Equal(t, "bucket unavailable", res.Items[3].Error)
	assert.Equal(t, []string{"https://cdn.test/posts/a.webp", "https://cdn.test/posts/e.webp"}, res.URLs())
	assert.Equal(t, []string{"a.webp", "e.webp"}, store.puts)
	tr.AssertExpectations(t)
}

func TestRunNeverTranscodesInvalidInput(t *testing.T) {
	pdf := input("brief.pdf", "application/pdf")
	png := input("ok.png", "image/png")

	tr := new(mockTranscoder)
	tr.On("Transcode", mock.Anything, png, mock.Anything).Return(okOutcome(png))
	c := NewCoordinator(nil, tr, &fakeStore{}, nil)

	res, err := c.Run(context.Background(), []media.RawInput{pdf, png}, "f", looseRules(), webpOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, StateInvalid, res.Items[0].State)
	assert.Nil(t, res.Items[0].Transcode)
	assert.Contains(t, res.Items[0].Violations[0], "application/pdf")
	tr.AssertNotCalled(t, "Transcode", mock.Anything, pdf, mock.Anything)
	tr.AssertNumberOfCalls(t, "Transcode", 1)
}

func TestRunEndToEndWithDefaultPreset(t *testing.T) {
	preset := presets.Default()
	store := storage.NewMemoryStore("", "https://cdn.example.com")
	defer store.Close()
	c := NewCoordinator(validation.Engine, transcoder.NewDefaultTranscoder(nil, nil), store, nil)

	inputs := []media.RawInput{
		media.NewRawInput("valid.png", "image/png", mediatest.PNG(500, 500)),
		media.NewRawInput("tiny.png", "image/png", mediatest.PNG(50, 50)),
		media.NewRawInput("brief.pdf", "application/pdf", []byte("%PDF-1.7\n%âãÏÓ\n")),
	}

	res, err := c.Run(context.Background(), inputs, preset.Folder, preset.Rules, preset.Transcode, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 2, res.ErrorCount)

	a, b, pdf := res.Items[0], res.Items[1], res.Items[2]

	require.Equal(t, StateCompleted, a.State, a.Error)
	require.NotNil(t, a.Upload)
	assert.NotEmpty(t, a.Upload.URL)
	assert.True(t, strings.HasSuffix(a.Upload.FileName, ".webp"))
	data, contentType, err := store.Get(context.Background(), a.Upload.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", contentType)
	dims, _, err := media.DecodeConfig(data)
	require.NoError(t, err)
	assert.Equal(t, media.Dimensions{Width: 500, Height: 500}, dims)

	assert.Equal(t, StateInvalid, b.State)
	assert.True(t, containsAny(b.Violations, "100"), b.Violations)

	assert.Equal(t, StateInvalid, pdf.State)
	assert.True(t, containsAny(pdf.Violations, "application/pdf"), pdf.Violations)
}

func containsAny(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestRunEmitsProgressSnapshots(t *testing.T) {
	png := input("a.png", "image/png")
	tr := new(mockTranscoder)
	tr.On("Transcode", mock.Anything, png, mock.Anything).Return(okOutcome(png))
	c := NewCoordinator(nil, tr, &fakeStore{}, nil)

	var snapshots [][]Progress
	_, err := c.Run(context.Background(), []media.RawInput{png}, "f", looseRules(), webpOptions(), func(p []Progress) {
		snapshots = append(snapshots, p)
	})
	require.NoError(t, err)

	var statuses []Status
	var percents []int
	for _, s := range snapshots {
		require.Len(t, s, 1)
		assert.Equal(t, "a.png", s[0].FileName)
		statuses = append(statuses, s[0].Status)
		percents = append(percents, s[0].ProgressPercent)
	}
	assert.Equal(t, []Status{StatusPending, StatusValidating, StatusTranscoding, StatusUploading, StatusCompleted}, statuses)
	assert.Equal(t, []int{0, 0, 25, 50, 100}, percents)
}

func TestRunProgressReportsErrors(t *testing.T) {
	c := NewCoordinator(nil, new(mockTranscoder), &fakeStore{}, nil)

	var last []Progress
	_, err := c.Run(context.Background(), []media.RawInput{input("x.bmp", "image/bmp")}, "f", looseRules(), webpOptions(),
		func(p []Progress) { last = p })
	require.NoError(t, err)

	require.Len(t, last, 1)
	assert.Equal(t, StatusError, last[0].Status)
	assert.Equal(t, 0, last[0].ProgressPercent)
	assert.Contains(t, last[0].Error, "image/bmp")
}

func TestRunProgressSnapshotsAreIndependent(t *testing.T) {
	inputs := []media.RawInput{input("a.gif", "image/gif"), input("b.gif", "image/gif")}
	c := NewCoordinator(nil, new(mockTranscoder), &fakeStore{}, nil)

	var first []Progress
	var last []Progress
	_, err := c.Run(context.Background(), inputs, "f", looseRules(), webpOptions(), func(p []Progress) {
		if first == nil {
			first = p
			p[0].FileName = "tampered"
		}
		last = p
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, first[1].Status)
	assert.Equal(t, "a.gif", last[0].FileName)
	assert.Equal(t, StatusError, last[1].Status)
}

func TestRunConfigurationErrors(t *testing.T) {
	tr := new(mockTranscoder)
	c := NewCoordinator(nil, tr, &fakeStore{}, nil)
	inputs := []media.RawInput{input("a.png", "image/png")}

	badRules := looseRules()
	badRules.MinWidth, badRules.MaxWidth = 500, 100
	res, err := c.Run(context.Background(), inputs, "f", badRules, webpOptions(), nil)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.True(t, errors.Is(err, validation.ErrInvalidRules))

	badOpts := webpOptions()
	badOpts.Quality = 0
	_, err = c.Run(context.Background(), inputs, "f", looseRules(), badOpts, nil)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.True(t, errors.Is(err, transcoder.ErrInvalidOptions))

	_, err = NewCoordinator(nil, nil, nil, nil).Run(context.Background(), inputs, "f", looseRules(), webpOptions(), nil)
	assert.True(t, errors.Is(err, ErrConfiguration))

	tr.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunEmptyBatch(t *testing.T) {
	c := NewCoordinator(nil, new(mockTranscoder), &fakeStore{}, nil)

	calls := 0
	res, err := c.Run(context.Background(), nil, "f", looseRules(), webpOptions(), func([]Progress) { calls++ })
	require.NoError(t, err)

	assert.Empty(t, res.Items)
	assert.Zero(t, res.SuccessCount+res.ErrorCount)
	assert.Equal(t, 1, calls)
}

func TestRunCancellationMarksRemainingItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inputs := []media.RawInput{input("a.png", "image/png"), input("b.png", "image/png"), input("c.png", "image/png")}
	tr := new(mockTranscoder)
	for _, in := range inputs {
		tr.On("Transcode", mock.Anything, in, mock.Anything).Return(okOutcome(in)).Maybe()
	}
	store := &fakeStore{onPut: cancel}
	c := NewCoordinator(nil, tr, store, nil)

	res, err := c.Run(ctx, inputs, "f", looseRules(), webpOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.Items[0].State)
	assert.Equal(t, StateCancelled, res.Items[1].State)
	assert.Equal(t, StateCancelled, res.Items[2].State)
	assert.Equal(t, context.Canceled.Error(), res.Items[1].Error)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 2, res.ErrorCount)
	tr.AssertNumberOfCalls(t, "Transcode", 1)
}

func TestRunRecordsCompletedItems(t *testing.T) {
	a, b := input("a.png", "image/png"), input("b.gif", "image/gif")
	tr := new(mockTranscoder)
	tr.On("Transcode", mock.Anything, a, mock.Anything).Return(okOutcome(a))

	rec := new(mockRecorder)
	rec.On("Record", mock.Anything, "gallery", mock.MatchedBy(func(it Item) bool {
		return it.FileName == "a.png" && it.State == StateCompleted && it.Upload != nil
	})).Return(errors.New("catalog down"))

	c := NewCoordinator(nil, tr, &fakeStore{}, nil, WithRecorder(rec))
	res, err := c.Run(context.Background(), []media.RawInput{a, b}, "gallery", looseRules(), webpOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.Items[0].State)
	assert.Equal(t, 1, res.SuccessCount)
	rec.AssertExpectations(t)
	rec.AssertNumberOfCalls(t, "Record", 1)
}

func TestRunFeedsStatisticsAndMetrics(t *testing.T) {
	a, b := input("a.png", "image/png"), input("b.gif", "image/gif")
	tr := new(mockTranscoder)
	tr.On("Transcode", mock.Anything, a, mock.Anything).Return(okOutcome(a))

	stats := statistics.NewStatistics()
	m := metrics.NewWithRegisterer("test", prometheus.NewRegistry())
	c := NewCoordinator(nil, tr, &fakeStore{}, nil, WithStatistics(stats), WithMetrics(m))

	_, err := c.Run(context.Background(), []media.RawInput{a, b}, "f", looseRules(), webpOptions(), nil)
	require.NoError(t, err)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.BatchesStarted)
	assert.Equal(t, int64(1), snap.BatchesCompleted)
	assert.Equal(t, int64(2), snap.FilesReceived)
	assert.Equal(t, int64(1), snap.FilesCompleted)
	assert.Equal(t, int64(1), snap.FilesInvalid)
	assert.Equal(t, int64(a.Size()), snap.BytesIn)
	require.Len(t, snap.RecentErrors, 1)
	assert.Equal(t, "b.gif", snap.RecentErrors[0].FileName)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesFinished.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesStarted))
}

func TestRunUsesBatchIDFromContext(t *testing.T) {
	c := NewCoordinator(nil, new(mockTranscoder), &fakeStore{}, nil)

	res, err := c.Run(ContextWithBatchID(context.Background(), "batch-42"), nil, "f", looseRules(), webpOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, "batch-42", res.BatchID)

	res, err = c.Run(context.Background(), nil, "f", looseRules(), webpOptions(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.BatchID)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	store := storage.NewMemoryStore("", "")
	defer store.Close()
	c := NewCoordinator(nil, transcoder.NewDefaultTranscoder(nil, nil), store, nil)
	preset := presets.Default()

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inputs := []media.RawInput{
				media.NewRawInput(fmt.Sprintf("w%d.png", i), "image/png", mediatest.PNG(200+i, 150)),
				media.NewRawInput(fmt.Sprintf("bad%d.pdf", i), "application/pdf", []byte("%PDF")),
			}
			res, err := c.Run(context.Background(), inputs, fmt.Sprintf("run%d", i), preset.Rules, preset.Transcode, nil)
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res)
		require.Len(t, res.Items, 2)
		assert.Equal(t, fmt.Sprintf("w%d.png", i), res.Items[0].FileName)
		assert.Equal(t, StateCompleted, res.Items[0].State, res.Items[0].Error)
		assert.Equal(t, StateInvalid, res.Items[1].State)
		assert.True(t, strings.Contains(res.Items[0].Upload.StoragePath, fmt.Sprintf("run%d/", i)))
	}
}

func TestStateMapping(t *testing.T) {
	tests := []struct {
		state    State
		status   Status
		percent  int
		terminal bool
	}{
		{StatePending, StatusPending, 0, false},
		{StateValidating, StatusValidating, 0, false},
		{StateInvalid, StatusError, 0, true},
		{StateTranscoding, StatusTranscoding, 25, false},
		{StateTranscodeFailed, StatusError, 0, true},
		{StateUploading, StatusUploading, 50, false},
		{StateCompleted, StatusCompleted, 100, true},
		{StateUploadFailed, StatusError, 0, true},
		{StateCancelled, StatusError, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.state.Status())
			assert.Equal(t, tt.percent, tt.state.Percent())
			assert.Equal(t, tt.terminal, tt.state.Terminal())

			text, err := tt.state.MarshalText()
			require.NoError(t, err)
			var back State
			require.NoError(t, back.UnmarshalText(text))
			assert.Equal(t, tt.state, back)
		})
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
	assert.Equal(t, "state(42)", State(42).String())
}
