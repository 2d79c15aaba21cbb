// Package replicate runs the logo placement model on Replicate and fetches
// its output.
package replicate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	r8 "github.com/replicate/replicate-go"
	"github.com/zeebo/errs"
)

// Error is the class for Replicate failures.
var Error = errs.Class("replicate")

const (
	DefaultBaseURL = "https://api.replicate.com/v1"
	// requestTimeout bounds each API call; callers may pass uncancellable contexts.
	requestTimeout = 30 * time.Second
	// maxDownload bounds the size of a generated image.
	maxDownload = 32 << 20
)

// Prediction states reported by the API.
const (
	StatusStarting   = string(r8.Starting)
	StatusProcessing = string(r8.Processing)
	StatusSucceeded  = string(r8.Succeeded)
	StatusFailed     = string(r8.Failed)
	StatusCanceled   = string(r8.Canceled)
)

// Input is the flux-in-context model input.
type Input struct {
	LogoImage         string
	LogoDescription   string
	DestinationPrompt string
}

func (in Input) predictionInput() r8.PredictionInput {
	return r8.PredictionInput{
		"logo_image":         in.LogoImage,
		"logo_description":   in.LogoDescription,
		"destination_prompt": in.DestinationPrompt,
	}
}

// Prediction is a submitted model run.
type Prediction struct {
	ID     string
	Status string
	Output json.RawMessage
	Error  any
}

func fromSDK(p *r8.Prediction) (*Prediction, error) {
	out, err := json.Marshal(p.Output)
	if err != nil {
		return nil, Error.New("prediction %s: encode output: %w", p.ID, err)
	}
	return &Prediction{ID: p.ID, Status: string(p.Status), Output: out, Error: p.Error}, nil
}

// OutputURL returns the result URL. The model returns either a single URL or
// a list whose first element is the image.
func (p *Prediction) OutputURL() (string, error) {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return "", Error.New("prediction %s has no output", p.ID)
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", Error.New("prediction %s: unexpected output %s", p.ID, p.Output)
}

// Config configures a Client.
type Config struct {
	Token   string
	Version string
	BaseURL string
}

// Client creates and polls predictions through the Replicate SDK.
type Client struct {
	api        *r8.Client
	version    string
	httpClient *http.Client
}

// NewClient creates a Replicate client. A token is required.
func NewClient(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	api, err := r8.NewClient(
		r8.WithToken(cfg.Token),
		r8.WithBaseURL(strings.TrimRight(base, "/")),
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{
		api:        api,
		version:    cfg.Version,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

// CreatePrediction submits input to the configured model version.
func (c *Client) CreatePrediction(ctx context.Context, input Input) (*Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	p, err := c.api.CreatePrediction(ctx, c.version, input.predictionInput(), nil, false)
	if err != nil {
		return nil, Error.New("create prediction: %w", err)
	}
	if p.ID == "" {
		return nil, Error.New("create prediction: missing id in response")
	}
	return fromSDK(p)
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	p, err := c.api.GetPrediction(ctx, id)
	if err != nil {
		return nil, Error.New("get prediction %s: %w", id, err)
	}
	return fromSDK(p)
}

// Download fetches a prediction output file.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Error.New("download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, Error.New("download output: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, Error.New("download output: %w", err)
	}
	if len(data) > maxDownload {
		return nil, Error.New("download output: larger than %d bytes", maxDownload)
	}
	return data, nil
}
