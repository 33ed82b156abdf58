package statistics

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCountsConcurrentUpdates(t *testing.T) {
	s := NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementFilesCompleted()
			s.AddTranscode(1000, 250, 2)
			s.IncrementFileType("image/png")
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(50), snap.FilesCompleted)
	assert.Equal(t, int64(50000), snap.BytesIn)
	assert.Equal(t, int64(12500), snap.BytesOut)
	assert.Equal(t, int64(100), snap.TranscodeAttempts)
	assert.InDelta(t, 75.0, snap.SavedPercent, 0.001)
	assert.Equal(t, int64(50), snap.FileTypes["image/png"])
}

func TestAddErrorKeepsMostRecent(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < maxErrors+5; i++ {
		s.AddError(fmt.Sprintf("f%d.png", i), "upload", "boom")
	}

	snap := s.Snapshot()
	require.Len(t, snap.RecentErrors, maxErrors)
	assert.Equal(t, "f5.png", snap.RecentErrors[0].FileName)
	assert.Contains(t, s.GetErrorSummary(), "more errors")
}

func TestSummaries(t *testing.T) {
	s := NewStatistics()
	assert.Equal(t, "No errors occurred during processing", s.GetErrorSummary())
	assert.Equal(t, "No file type statistics available", s.GetFileTypeBreakdown())

	s.IncrementBatchesStarted()
	s.AddFilesReceived(3)
	s.IncrementFilesInvalid()
	s.IncrementFileType("image/jpeg")
	s.IncrementFileType("application/pdf")

	summary := s.GetSummary()
	assert.Contains(t, summary, "Received: 3")
	assert.Contains(t, summary, "Invalid: 1")
	assert.Equal(t, "File Type Breakdown:\n  application/pdf: 1\n  image/jpeg: 1\n", s.GetFileTypeBreakdown())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "10.0 MB", FormatBytes(10*1024*1024))
}
