package generation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
	"github.com/jimclydegm/logotoanythingapp/internal/replicate"
	"github.com/jimclydegm/logotoanythingapp/internal/store"
)

type fakeLedger struct {
	mu          sync.Mutex
	balance     int
	missing     bool
	generations []models.Generation
	recordErr   error
}

func (l *fakeLedger) DebitCredits(_ context.Context, _ string, n int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.missing {
		return 0, store.ErrNotFound
	}
	if l.balance < n {
		return l.balance, store.ErrInsufficientCredits
	}
	l.balance -= n
	return l.balance, nil
}

func (l *fakeLedger) RefundCredits(_ context.Context, _ string, n int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += n
	return l.balance, nil
}

func (l *fakeLedger) CreateGeneration(_ context.Context, g *models.Generation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return l.recordErr
	}
	g.ID = "gen-1"
	l.generations = append(l.generations, *g)
	return nil
}

// fakePredictor replays statuses in order; a nil entry means the poll request fails.
type fakePredictor struct {
	submitErr   error
	polls       []*replicate.Prediction
	pollCount   int
	downloadErr error
	submitted   []replicate.Input
}

func (f *fakePredictor) CreatePrediction(_ context.Context, in replicate.Input) (*replicate.Prediction, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, in)
	return &replicate.Prediction{ID: "pred-1", Status: replicate.StatusStarting}, nil
}

func (f *fakePredictor) GetPrediction(context.Context, string) (*replicate.Prediction, error) {
	i := f.pollCount
	f.pollCount++
	if i >= len(f.polls) {
		return &replicate.Prediction{ID: "pred-1", Status: replicate.StatusProcessing}, nil
	}
	if f.polls[i] == nil {
		return nil, errors.New("502 bad gateway")
	}
	return f.polls[i], nil
}

func (f *fakePredictor) Download(context.Context, string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte("png"), nil
}

type fakeObjects struct {
	keys []string
	err  error
}

func (f *fakeObjects) Put(_ context.Context, key, contentType string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key+"|"+contentType)
	return "https://bucket.s3.us-east-1.amazonaws.com/" + key, nil
}

func succeeded() *replicate.Prediction {
	return &replicate.Prediction{ID: "pred-1", Status: replicate.StatusSucceeded, Output: json.RawMessage(`["https://replicate.delivery/out.png"]`)}
}

func newPipeline(t *testing.T, ledger *fakeLedger, pred *fakePredictor, objects *fakeObjects) *Pipeline {
	t.Helper()
	p := NewPipeline(zaptest.NewLogger(t), ledger, pred, objects, Config{CreditCost: 2, PollInterval: time.Second, MaxAttempts: 5})
	p.sleep = func(time.Duration) {}
	p.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return p
}

func request() Request {
	return Request{
		UserID:            "user-1",
		LogoURL:           "https://bucket/logo.png",
		LogoDescription:   "a red fox",
		DestinationPrompt: "on a coffee mug",
		IPAddress:         "203.0.113.9",
		UserAgent:         "test-agent",
	}
}

func TestRunInsufficientCredits(t *testing.T) {
	ledger := &fakeLedger{balance: 1}
	pred := &fakePredictor{}
	p := newPipeline(t, ledger, pred, &fakeObjects{})

	_, err := p.Run(context.Background(), request())
	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Required)
	assert.Equal(t, 1, insufficient.Current)
	assert.ErrorIs(t, err, store.ErrInsufficientCredits)
	assert.Equal(t, 1, ledger.balance)
	assert.Empty(t, pred.submitted)
}

func TestRunMissingProfileCountsAsNoCredits(t *testing.T) {
	p := newPipeline(t, &fakeLedger{missing: true}, &fakePredictor{}, &fakeObjects{})
	_, err := p.Run(context.Background(), request())
	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Current)
}

func TestRunSuccess(t *testing.T) {
	ledger := &fakeLedger{balance: 5}
	pred := &fakePredictor{polls: []*replicate.Prediction{
		{ID: "pred-1", Status: replicate.StatusProcessing},
		succeeded(),
	}}
	objects := &fakeObjects{}
	p := newPipeline(t, ledger, pred, objects)

	res, err := p.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3.us-east-1.amazonaws.com/results/user-1/generated-1700000000000.png", res.ImageURL)
	assert.Equal(t, "gen-1", res.GenerationID)
	assert.Equal(t, 3, ledger.balance)
	assert.Equal(t, []string{"results/user-1/generated-1700000000000.png|image/png"}, objects.keys)

	require.Len(t, ledger.generations, 1)
	g := ledger.generations[0]
	assert.Equal(t, models.GenerationStatusCompleted, g.Status)
	assert.Equal(t, 2, g.CreditCost)
	assert.Equal(t, "generated-1700000000000.png", g.ResultFileName)
	assert.Equal(t, "203.0.113.9", g.IPAddress)
	assert.Equal(t, "flux-in-context", g.Metadata["model"])
	assert.Equal(t, "logo-to-anything", g.Metadata["generation_type"])

	require.Len(t, pred.submitted, 1)
	assert.Equal(t, "a red fox", pred.submitted[0].LogoDescription)
}

func TestRunRefundsOnFailure(t *testing.T) {
	cases := map[string]struct {
		pred    *fakePredictor
		objects *fakeObjects
		want    error
	}{
		"submit": {
			pred:    &fakePredictor{submitErr: errors.New("401")},
			objects: &fakeObjects{},
		},
		"model failed": {
			pred:    &fakePredictor{polls: []*replicate.Prediction{{ID: "pred-1", Status: replicate.StatusFailed}}},
			objects: &fakeObjects{},
			want:    ErrGenerationFailed,
		},
		"model canceled": {
			pred:    &fakePredictor{polls: []*replicate.Prediction{{ID: "pred-1", Status: replicate.StatusCanceled}}},
			objects: &fakeObjects{},
			want:    ErrGenerationFailed,
		},
		"timeout": {
			pred:    &fakePredictor{},
			objects: &fakeObjects{},
			want:    ErrGenerationTimeout,
		},
		"download": {
			pred:    &fakePredictor{polls: []*replicate.Prediction{succeeded()}, downloadErr: errors.New("404")},
			objects: &fakeObjects{},
		},
		"upload": {
			pred:    &fakePredictor{polls: []*replicate.Prediction{succeeded()}},
			objects: &fakeObjects{err: errors.New("access denied")},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ledger := &fakeLedger{balance: 5}
			p := newPipeline(t, ledger, tc.pred, tc.objects)

			_, err := p.Run(context.Background(), request())
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
			assert.Equal(t, 5, ledger.balance)
			assert.Empty(t, ledger.generations)
		})
	}
}

func TestPollErrorsConsumeAttempts(t *testing.T) {
	ledger := &fakeLedger{balance: 2}
	pred := &fakePredictor{polls: []*replicate.Prediction{nil, nil, nil, nil, nil, succeeded()}}
	p := newPipeline(t, ledger, pred, &fakeObjects{})

	_, err := p.Run(context.Background(), request())
	require.ErrorIs(t, err, ErrGenerationTimeout)
	assert.Equal(t, 5, pred.pollCount)
	assert.Equal(t, 2, ledger.balance)
}

func TestPollRecoversAfterTransientError(t *testing.T) {
	ledger := &fakeLedger{balance: 2}
	pred := &fakePredictor{polls: []*replicate.Prediction{nil, succeeded()}}
	p := newPipeline(t, ledger, pred, &fakeObjects{})

	_, err := p.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.balance)
}

func TestRunSurvivesCallerCancellation(t *testing.T) {
	ledger := &fakeLedger{balance: 2}
	ctx, cancel := context.WithCancel(context.Background())
	pred := &fakePredictor{submitErr: errors.New("boom")}
	p := newPipeline(t, ledger, pred, &fakeObjects{})
	cancel()

	_, err := p.Run(ctx, request())
	require.Error(t, err)
	assert.Equal(t, 2, ledger.balance)
}

func TestRecordFailureStillSucceeds(t *testing.T) {
	ledger := &fakeLedger{balance: 2, recordErr: errors.New("db down")}
	p := newPipeline(t, ledger, &fakePredictor{polls: []*replicate.Prediction{succeeded()}}, &fakeObjects{})

	res, err := p.Run(context.Background(), request())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ImageURL)
	assert.Empty(t, res.GenerationID)
	assert.Equal(t, 0, ledger.balance)
}
