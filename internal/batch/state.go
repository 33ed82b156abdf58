package batch

import (
	"fmt"
	"strings"

	"image-uploader-go/internal/storage"
	"image-uploader-go/internal/transcoder"
	"image-uploader-go/internal/validation"
)

// State is the lifecycle position of one item within a batch.
//
//	Pending → Validating → Invalid
//	                     → Transcoding → TranscodeFailed
//	                                   → Uploading → Completed | UploadFailed
//
// Cancelled is entered from Pending when the batch context ends early.
type State int

const (
	StatePending State = iota
	StateValidating
	StateInvalid
	StateTranscoding
	StateTranscodeFailed
	StateUploading
	StateCompleted
	StateUploadFailed
	StateCancelled
)

var stateNames = [...]string{
	StatePending:         "pending",
	StateValidating:      "validating",
	StateInvalid:         "invalid",
	StateTranscoding:     "transcoding",
	StateTranscodeFailed: "transcode_failed",
	StateUploading:       "uploading",
	StateCompleted:       "completed",
	StateUploadFailed:    "upload_failed",
	StateCancelled:       "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown batch state %q", b)
}

// Terminal reports whether the state can no longer change within a batch.
func (s State) Terminal() bool {
	switch s {
	case StateInvalid, StateTranscodeFailed, StateCompleted, StateUploadFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Status maps the state onto the coarse status reported to progress listeners.
func (s State) Status() Status {
	switch s {
	case StatePending:
		return StatusPending
	case StateValidating:
		return StatusValidating
	case StateTranscoding:
		return StatusTranscoding
	case StateUploading:
		return StatusUploading
	case StateCompleted:
		return StatusCompleted
	default:
		return StatusError
	}
}

// Percent is the progress percentage reported for the state.
func (s State) Percent() int {
	switch s {
	case StateTranscoding:
		return 25
	case StateUploading:
		return 50
	case StateCompleted:
		return 100
	default:
		return 0
	}
}

// Status is the coarse per-file status shown to users.
type Status string

const (
	StatusPending     Status = "pending"
	StatusValidating  Status = "validating"
	StatusTranscoding Status = "transcoding"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Item is the state of one input within a batch together with the outcomes
// of the phases it went through.
type Item struct {
	Index      int                    `json:"index"`
	FileName   string                 `json:"fileName"`
	State      State                  `json:"state"`
	Error      string                 `json:"error,omitempty"`
	Violations []string               `json:"violations,omitempty"`
	Validation *validation.Outcome    `json:"validation,omitempty"`
	Transcode  *transcoder.Outcome    `json:"transcode,omitempty"`
	Upload     *storage.UploadOutcome `json:"upload,omitempty"`
}

// Progress returns the item as a progress entry.
func (it Item) Progress() Progress {
	return Progress{
		FileName:        it.FileName,
		ProgressPercent: it.State.Percent(),
		Status:          it.State.Status(),
		Error:           it.Error,
	}
}

// Progress is one entry of a progress snapshot.
type Progress struct {
	FileName        string `json:"fileName"`
	ProgressPercent int    `json:"progressPercent"`
	Status          Status `json:"status"`
	Error           string `json:"error,omitempty"`
}

// ProgressFunc receives a fresh snapshot of every item, in input order,
// after each state change.
type ProgressFunc func([]Progress)

// Result is the aggregate outcome of a batch. Items[i] corresponds to the
// i-th input and SuccessCount+ErrorCount == len(Items).
type Result struct {
	BatchID      string `json:"batchId"`
	Folder       string `json:"folder"`
	Items        []Item `json:"items"`
	SuccessCount int    `json:"successCount"`
	ErrorCount   int    `json:"errorCount"`
}

// URLs returns the URLs of the completed items in input order.
func (r *Result) URLs() []string {
	var urls []string
	for _, it := range r.Items {
		if it.State == StateCompleted && it.Upload != nil {
			urls = append(urls, it.Upload.URL)
		}
	}
	return urls
}
