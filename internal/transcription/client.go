package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callsight/callsight/internal/types"
)

// Job statuses reported by the remote service.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusTerminated = "terminated"
)

// Failure is a terminal error/terminated job state. The message is the
// service-provided error, or a generic fallback when the service gave none.
type Failure struct {
	JobID   string
	Status  string
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("transcription job %s %s: %s", f.JobID, f.Status, f.Message)
}

// genericFailureMessage is used when a failed job carries no error text.
const genericFailureMessage = "transcription failed without details"

// Config holds the client timeouts. These are fixed by contract: upload 60s,
// job create and each poll 30s, 3s between polls. The client never retries a
// failed call. MaxPolls of zero leaves the poll count unbounded, relying on
// the caller's wall-clock ceiling.
type Config struct {
	BaseURL        string
	APIKey         string
	UploadTimeout  time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
	MaxPolls       int
}

// DefaultConfig returns the contract timeouts.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		UploadTimeout:  60 * time.Second,
		RequestTimeout: 30 * time.Second,
		PollInterval:   3 * time.Second,
	}
}

// Sleeper abstracts the inter-poll delay so tests can run the polling loop
// without wall-clock time.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is a completed transcription with second-based word timestamps.
type Result struct {
	JobID string
	Text  string
	Words []types.Word
}

// Client drives one transcription job through
// upload → create → poll → terminal state.
type Client struct {
	cfg          Config
	uploadClient *http.Client
	jobClient    *http.Client
	sleeper      Sleeper
	log          *logrus.Entry
}

// NewClient creates a client for the remote transcription service.
func NewClient(cfg Config, log *logrus.Entry) *Client {
	return &Client{
		cfg:          cfg,
		uploadClient: &http.Client{Timeout: cfg.UploadTimeout},
		jobClient:    &http.Client{Timeout: cfg.RequestTimeout},
		sleeper:      realSleeper{},
		log:          log,
	}
}

// WithSleeper swaps the inter-poll sleeper. For tests.
func (c *Client) WithSleeper(s Sleeper) *Client {
	c.sleeper = s
	return c
}

// Transcribe uploads the audio, creates a diarized job and polls it to a
// terminal state. Word timestamps arrive in milliseconds and are converted
// to seconds here, exactly once.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (*Result, error) {
	uploadRef, err := c.upload(ctx, audio)
	if err != nil {
		return nil, err
	}
	c.log.WithField("upload_ref", uploadRef).Debug("Audio uploaded")

	jobID, err := c.createJob(ctx, uploadRef)
	if err != nil {
		return nil, err
	}
	c.log.WithField("job_id", jobID).Info("Transcription job created")

	job, err := c.poll(ctx, jobID)
	if err != nil {
		return nil, err
	}

	words := make([]types.Word, len(job.Words))
	for i, w := range job.Words {
		words[i] = types.Word{
			Text:       w.Text,
			Start:      float64(w.Start) / 1000.0,
			End:        float64(w.End) / 1000.0,
			Confidence: w.Confidence,
			Speaker:    w.Speaker,
		}
	}
	return &Result{JobID: job.ID, Text: job.Text, Words: words}, nil
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

// upload sends the raw bytes and returns the opaque upload reference.
func (c *Client) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("audio upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("audio upload failed: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unexpected upload response: %w", err)
	}
	if parsed.UploadURL == "" {
		return "", fmt.Errorf("upload response missing upload_url")
	}
	return parsed.UploadURL, nil
}

type createRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type wireWord struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"` // milliseconds
	End        int64   `json:"end"`   // milliseconds
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker"`
}

type jobResponse struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Text   string     `json:"text"`
	Words  []wireWord `json:"words"`
	Error  string     `json:"error"`
}

// createJob submits the upload reference with diarization enabled.
func (c *Client) createJob(ctx context.Context, uploadRef string) (string, error) {
	payload, _ := json.Marshal(createRequest{AudioURL: uploadRef, SpeakerLabels: true})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.jobClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("job creation failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("job creation failed: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed jobResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unexpected job response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("job response missing id")
	}
	return parsed.ID, nil
}

// poll checks the job status every PollInterval until a terminal state.
func (c *Client) poll(ctx context.Context, jobID string) (*jobResponse, error) {
	polls := 0
	for {
		if err := c.sleeper.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}

		job, err := c.checkStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case StatusCompleted:
			return job, nil
		case StatusError, StatusTerminated:
			msg := job.Error
			if msg == "" {
				msg = genericFailureMessage
			}
			return nil, &Failure{JobID: jobID, Status: job.Status, Message: msg}
		case StatusQueued, StatusProcessing:
			// keep polling
		default:
			return nil, fmt.Errorf("unknown job status %q for job %s", job.Status, jobID)
		}

		polls++
		if c.cfg.MaxPolls > 0 && polls >= c.cfg.MaxPolls {
			return nil, fmt.Errorf("job %s still %s after %d polls", jobID, job.Status, polls)
		}
	}
}

func (c *Client) checkStatus(ctx context.Context, jobID string) (*jobResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v2/transcript/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.cfg.APIKey)

	resp, err := c.jobClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status check failed: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed jobResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected status response: %w", err)
	}
	return &parsed, nil
}
