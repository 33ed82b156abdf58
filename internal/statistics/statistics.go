package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains process-wide counters for the upload pipeline.
type Statistics struct {
	BatchesStarted   int64
	BatchesCompleted int64

	FilesReceived        int64
	FilesCompleted       int64
	FilesInvalid         int64
	FilesTranscodeFailed int64
	FilesUploadFailed    int64
	FilesCancelled       int64

	BytesIn           int64
	BytesOut          int64
	TranscodeAttempts int64

	AssetsDeleted int64

	StartTime time.Time

	Errors []StatError

	mutex sync.RWMutex

	FileTypeStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FileName  string    `json:"fileName"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the counters, suitable for JSON.
type Snapshot struct {
	BatchesStarted       int64            `json:"batchesStarted"`
	BatchesCompleted     int64            `json:"batchesCompleted"`
	FilesReceived        int64            `json:"filesReceived"`
	FilesCompleted       int64            `json:"filesCompleted"`
	FilesInvalid         int64            `json:"filesInvalid"`
	FilesTranscodeFailed int64            `json:"filesTranscodeFailed"`
	FilesUploadFailed    int64            `json:"filesUploadFailed"`
	FilesCancelled       int64            `json:"filesCancelled"`
	BytesIn              int64            `json:"bytesIn"`
	BytesOut             int64            `json:"bytesOut"`
	SavedPercent         float64          `json:"savedPercent"`
	TranscodeAttempts    int64            `json:"transcodeAttempts"`
	AssetsDeleted        int64            `json:"assetsDeleted"`
	Uptime               string           `json:"uptime"`
	FileTypes            map[string]int64 `json:"fileTypes"`
	RecentErrors         []StatError      `json:"recentErrors"`
}

const maxErrors = 100

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// IncrementBatchesStarted increases the count of started batches by 1.
func (s *Statistics) IncrementBatchesStarted() {
	atomic.AddInt64(&s.BatchesStarted, 1)
}

// IncrementBatchesCompleted increases the count of finished batches by 1.
func (s *Statistics) IncrementBatchesCompleted() {
	atomic.AddInt64(&s.BatchesCompleted, 1)
}

// AddFilesReceived adds n to the count of submitted files.
func (s *Statistics) AddFilesReceived(n int) {
	atomic.AddInt64(&s.FilesReceived, int64(n))
}

// IncrementFilesCompleted increases the count of uploaded files by 1.
func (s *Statistics) IncrementFilesCompleted() {
	atomic.AddInt64(&s.FilesCompleted, 1)
}

// IncrementFilesInvalid increases the count of files rejected by validation by 1.
func (s *Statistics) IncrementFilesInvalid() {
	atomic.AddInt64(&s.FilesInvalid, 1)
}

// IncrementFilesTranscodeFailed increases the count of files that failed to transcode by 1.
func (s *Statistics) IncrementFilesTranscodeFailed() {
	atomic.AddInt64(&s.FilesTranscodeFailed, 1)
}

// IncrementFilesUploadFailed increases the count of files the store rejected by 1.
func (s *Statistics) IncrementFilesUploadFailed() {
	atomic.AddInt64(&s.FilesUploadFailed, 1)
}

// IncrementFilesCancelled increases the count of files skipped by cancellation by 1.
func (s *Statistics) IncrementFilesCancelled() {
	atomic.AddInt64(&s.FilesCancelled, 1)
}

// IncrementAssetsDeleted increases the count of deleted assets by 1.
func (s *Statistics) IncrementAssetsDeleted() {
	atomic.AddInt64(&s.AssetsDeleted, 1)
}

// AddTranscode records the sizes and attempts of one successful transcode.
func (s *Statistics) AddTranscode(bytesIn, bytesOut, attempts int) {
	atomic.AddInt64(&s.BytesIn, int64(bytesIn))
	atomic.AddInt64(&s.BytesOut, int64(bytesOut))
	atomic.AddInt64(&s.TranscodeAttempts, int64(attempts))
}

// IncrementFileType increases the count for a specific MIME type by 1.
func (s *Statistics) IncrementFileType(fileType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FileTypeStats[fileType]++
}

// AddError records an error that occurred during processing. Only the most
// recent errors are kept.
func (s *Statistics) AddError(fileName, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FileName:  fileName,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
	if len(s.Errors) > maxErrors {
		s.Errors = append([]StatError(nil), s.Errors[len(s.Errors)-maxErrors:]...)
	}
}

// Snapshot returns a consistent copy of the counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	types := make(map[string]int64, len(s.FileTypeStats))
	for k, v := range s.FileTypeStats {
		types[k] = v
	}
	bytesIn := atomic.LoadInt64(&s.BytesIn)
	bytesOut := atomic.LoadInt64(&s.BytesOut)
	saved := 0.0
	if bytesIn > 0 {
		saved = float64(bytesIn-bytesOut) / float64(bytesIn) * 100
	}

	return Snapshot{
		BatchesStarted:       atomic.LoadInt64(&s.BatchesStarted),
		BatchesCompleted:     atomic.LoadInt64(&s.BatchesCompleted),
		FilesReceived:        atomic.LoadInt64(&s.FilesReceived),
		FilesCompleted:       atomic.LoadInt64(&s.FilesCompleted),
		FilesInvalid:         atomic.LoadInt64(&s.FilesInvalid),
		FilesTranscodeFailed: atomic.LoadInt64(&s.FilesTranscodeFailed),
		FilesUploadFailed:    atomic.LoadInt64(&s.FilesUploadFailed),
		FilesCancelled:       atomic.LoadInt64(&s.FilesCancelled),
		BytesIn:              bytesIn,
		BytesOut:             bytesOut,
		SavedPercent:         saved,
		TranscodeAttempts:    atomic.LoadInt64(&s.TranscodeAttempts),
		AssetsDeleted:        atomic.LoadInt64(&s.AssetsDeleted),
		Uptime:               time.Since(s.StartTime).Round(time.Second).String(),
		FileTypes:            types,
		RecentErrors:         append([]StatError(nil), s.Errors...),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	return fmt.Sprintf(`Image Uploader Statistics Summary:

Batches:
		Started: %d
		Completed: %d

Files:
		Received: %d
		Uploaded: %d
		Invalid: %d
		Transcode Failed: %d
		Upload Failed: %d
		Cancelled: %d

Transcoding:
		Bytes In: %s
		Bytes Out: %s
		Saved: %.1f%%
		Encode Attempts: %d

Assets Deleted: %d
Uptime: %s`,
		snap.BatchesStarted,
		snap.BatchesCompleted,
		snap.FilesReceived,
		snap.FilesCompleted,
		snap.FilesInvalid,
		snap.FilesTranscodeFailed,
		snap.FilesUploadFailed,
		snap.FilesCancelled,
		FormatBytes(snap.BytesIn),
		FormatBytes(snap.BytesOut),
		snap.SavedPercent,
		snap.TranscodeAttempts,
		snap.AssetsDeleted,
		snap.Uptime)
}

// GetFileTypeBreakdown returns a formatted breakdown of submitted MIME types.
func (s *Statistics) GetFileTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	types := make([]string, 0, len(s.FileTypeStats))
	for t := range s.FileTypeStats {
		types = append(types, t)
	}
	sort.Strings(types)

	result := "File Type Breakdown:\n"
	for _, fileType := range types {
		result += fmt.Sprintf("  %s: %d\n", fileType, s.FileTypeStats[fileType])
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FileName,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
