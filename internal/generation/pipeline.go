// Package generation runs paid logo-to-scene generations: it debits credits,
// drives a Replicate prediction to completion, stores the result and records it.
package generation

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/models"
	"github.com/jimclydegm/logotoanythingapp/internal/replicate"
	"github.com/jimclydegm/logotoanythingapp/internal/storage"
	"github.com/jimclydegm/logotoanythingapp/internal/store"
)

// Error is the class for generation failures.
var Error = errs.Class("generation")

var (
	// ErrGenerationTimeout is returned when the prediction did not finish within the poll budget.
	ErrGenerationTimeout = errors.New("generation: timed out")
	// ErrGenerationFailed is returned when the model reported failure or cancellation.
	ErrGenerationFailed = errors.New("generation: failed")
)

// InsufficientCreditsError reports a balance below the generation cost.
// Nothing was debited.
type InsufficientCreditsError struct {
	Required int
	Current  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("generation: need %d credits, have %d", e.Required, e.Current)
}

func (e *InsufficientCreditsError) Unwrap() error { return store.ErrInsufficientCredits }

// Ledger is the credit and history store.
type Ledger interface {
	DebitCredits(ctx context.Context, userID string, amount int) (int, error)
	RefundCredits(ctx context.Context, userID string, amount int) (int, error)
	CreateGeneration(ctx context.Context, gen *models.Generation) error
}

// Predictor runs model predictions.
type Predictor interface {
	CreatePrediction(ctx context.Context, input replicate.Input) (*replicate.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// ObjectStore persists generated images.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Config tunes cost and polling.
type Config struct {
	CreditCost   int
	PollInterval time.Duration
	MaxAttempts  int
}

// Request is one generation order.
type Request struct {
	UserID            string
	LogoURL           string
	LogoDescription   string
	DestinationPrompt string
	IPAddress         string
	UserAgent         string
}

// Result is returned on success. GenerationID is empty when the history row
// could not be written.
type Result struct {
	ImageURL     string
	GenerationID string
}

// Pipeline executes generations.
type Pipeline struct {
	log       *zap.Logger
	ledger    Ledger
	predictor Predictor
	objects   ObjectStore
	cfg       Config

	sleep func(time.Duration)
	now   func() time.Time
}

// NewPipeline wires a pipeline.
func NewPipeline(log *zap.Logger, ledger Ledger, predictor Predictor, objects ObjectStore, cfg Config) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CreditCost <= 0 {
		cfg.CreditCost = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	return &Pipeline{
		log:       log,
		ledger:    ledger,
		predictor: predictor,
		objects:   objects,
		cfg:       cfg,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Cost returns the credits one generation consumes.
func (p *Pipeline) Cost() int { return p.cfg.CreditCost }

// Run debits the cost, generates the image and records it. Any failure after
// the debit refunds the cost before returning.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	log := p.log.With(zap.String("user_id", req.UserID))
	cost := p.cfg.CreditCost

	balance, err := p.ledger.DebitCredits(ctx, req.UserID, cost)
	switch {
	case errors.Is(err, store.ErrInsufficientCredits):
		return Result{}, &InsufficientCreditsError{Required: cost, Current: balance}
	case errors.Is(err, store.ErrNotFound):
		return Result{}, &InsufficientCreditsError{Required: cost}
	case err != nil:
		return Result{}, Error.New("debit credits: %w", err)
	}
	log.Info("credits debited", zap.Int("cost", cost), zap.Int("balance", balance))

	// The caller may go away now; refund or record must still happen.
	ctx = context.WithoutCancel(ctx)

	imageURL, fileName, err := p.produce(ctx, log, req)
	if err != nil {
		if restored, rerr := p.ledger.RefundCredits(ctx, req.UserID, cost); rerr != nil {
			log.Error("refund failed", zap.Int("cost", cost), zap.Error(rerr))
		} else {
			log.Info("credits refunded", zap.Int("cost", cost), zap.Int("balance", restored))
		}
		return Result{}, err
	}

	gen := &models.Generation{
		UserID:            req.UserID,
		LogoURL:           req.LogoURL,
		LogoDescription:   req.LogoDescription,
		DestinationPrompt: req.DestinationPrompt,
		ResultURL:         imageURL,
		ResultFileName:    fileName,
		Status:            models.GenerationStatusCompleted,
		CreditCost:        cost,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		Metadata: models.JSONB{
			"model":           "flux-in-context",
			"generation_type": "logo-to-anything",
		},
	}
	if err := p.ledger.CreateGeneration(ctx, gen); err != nil {
		log.Error("record generation", zap.String("result_url", imageURL), zap.Error(err))
		return Result{ImageURL: imageURL}, nil
	}
	log.Info("generation recorded", zap.String("generation_id", gen.ID))
	return Result{ImageURL: imageURL, GenerationID: gen.ID}, nil
}

// produce submits, polls, downloads and uploads. It returns the public URL
// and file name of the stored image.
func (p *Pipeline) produce(ctx context.Context, log *zap.Logger, req Request) (string, string, error) {
	pred, err := p.predictor.CreatePrediction(ctx, replicate.Input{
		LogoImage:         req.LogoURL,
		LogoDescription:   req.LogoDescription,
		DestinationPrompt: req.DestinationPrompt,
	})
	if err != nil {
		return "", "", Error.New("submit prediction: %w", err)
	}
	log = log.With(zap.String("prediction_id", pred.ID))
	log.Info("prediction submitted")

	outputURL, err := p.await(ctx, log, pred.ID)
	if err != nil {
		return "", "", err
	}

	data, err := p.predictor.Download(ctx, outputURL)
	if err != nil {
		return "", "", Error.New("download result: %w", err)
	}

	key := storage.ResultKey(req.UserID, p.now())
	url, err := p.objects.Put(ctx, key, "image/png", data)
	if err != nil {
		return "", "", Error.New("upload result: %w", err)
	}
	log.Info("result stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return url, path.Base(key), nil
}

// await polls until the prediction finishes. A failed poll request still
// counts against MaxAttempts.
func (p *Pipeline) await(ctx context.Context, log *zap.Logger, id string) (string, error) {
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		p.sleep(p.cfg.PollInterval)

		pred, err := p.predictor.GetPrediction(ctx, id)
		if err != nil {
			log.Warn("poll prediction", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		switch pred.Status {
		case replicate.StatusSucceeded:
			url, err := pred.OutputURL()
			if err != nil {
				return "", Error.Wrap(err)
			}
			return url, nil
		case replicate.StatusFailed, replicate.StatusCanceled:
			log.Warn("prediction did not succeed", zap.String("status", pred.Status), zap.Any("error", pred.Error))
			return "", fmt.Errorf("%w: prediction %s %s", ErrGenerationFailed, id, pred.Status)
		}
	}
	return "", fmt.Errorf("%w: prediction %s after %d polls", ErrGenerationTimeout, id, p.cfg.MaxAttempts)
}
