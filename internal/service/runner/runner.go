// Package runner turns the images of one or more batches into annotated images
// and detection rows by running a detection model over them one at a time.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	_ "golang.org/x/image/bmp"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
)

var (
	// ErrEmptyBatch is returned when the requested batches contain no images.
	ErrEmptyBatch = errors.New("no images to run model")
	// ErrModelLoad is returned when the selected model cannot be resolved or opened.
	ErrModelLoad = errors.New("failed to load detection model")
	// ErrRunInProgress is returned when a requested batch is already being processed.
	ErrRunInProgress = errors.New("a detection run is already in progress for this batch")
)

// ImageStore reads raw images and persists annotated copies.
type ImageStore interface {
	ListImages(ctx context.Context, projectID int64, batchIDs []int64) ([]model.Image, error)
	ReadBytes(ctx context.Context, img model.Image) ([]byte, error)
	WriteAnnotated(ctx context.Context, img model.Image, data []byte) (string, error)
	Remove(path string) error
}

// DetectionRecorder commits the annotated path and detections of one image atomically.
type DetectionRecorder interface {
	ReplaceForImage(imageID int64, annotatedPath string, detections []model.Detection) error
}

// Detector is a loaded detection model. It is read-only for the duration of a run.
type Detector interface {
	Predict(ctx context.Context, img image.Image) ([]dto.DetectionResult, error)
	Close() error
}

// ModelLoader opens a registered model by name.
type ModelLoader interface {
	Load(ctx context.Context, name string) (Detector, error)
}

// Annotator renders detections onto an image and encodes the result.
type Annotator interface {
	Annotate(img image.Image, detections []dto.DetectionResult) ([]byte, error)
}

// ProgressNotifier pushes progress to observers. Publish must not block.
type ProgressNotifier interface {
	Publish(event string, percent int)
}

// UserNotifier is a ProgressNotifier that can address the observers of one user.
type UserNotifier interface {
	ProgressNotifier
	PublishTo(userID int64, event string, percent int)
}

func (r *Runner) progressFor(req dto.RunRequest) func(event string, percent int) {
	if scoped, ok := r.notifier.(UserNotifier); ok && req.UserID > 0 {
		return func(event string, percent int) { scoped.PublishTo(req.UserID, event, percent) }
	}
	return r.notifier.Publish
}

// PerImageError records why one image was skipped.
type PerImageError struct {
	ImageID int64
	Stage   string
	Err     error
}

func (e *PerImageError) Error() string {
	return fmt.Sprintf("image %d: %s: %v", e.ImageID, e.Stage, e.Err)
}

func (e *PerImageError) Unwrap() error {
	return e.Err
}

// Runner executes detection runs.
type Runner struct {
	store     ImageStore
	recorder  DetectionRecorder
	models    ModelLoader
	annotator Annotator
	notifier  ProgressNotifier
	logger    *logger.Logger
	decode    func([]byte) (image.Image, error)
}

// NewRunner creates a Runner from its collaborators.
func NewRunner(store ImageStore, recorder DetectionRecorder, models ModelLoader, annotator Annotator,
	notifier ProgressNotifier, logger *logger.Logger) *Runner {
	return &Runner{
		store:     store,
		recorder:  recorder,
		models:    models,
		annotator: annotator,
		notifier:  notifier,
		logger:    logger,
		decode:    decodeImage,
	}
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// Run processes every image of the requested batches in ascending ID order.
//
// Empty batch sets and unloadable models abort the run before any image is touched.
// Once processing starts, per-image failures are recorded in the outcome and the run
// continues. The context is checked between images only.
func (r *Runner) Run(ctx context.Context, req dto.RunRequest) (*dto.RunOutcome, error) {
	outcome := &dto.RunOutcome{
		RunID:     uuid.NewString(),
		State:     dto.RunNotStarted,
		StartedAt: time.Now(),
	}
	log := r.logger.With("run", outcome.RunID, "project", req.ProjectID)
	publish := r.progressFor(req)

	images, err := r.store.ListImages(ctx, req.ProjectID, lo.Uniq(req.BatchIDs))
	if err != nil {
		return r.abort(log, outcome, fmt.Errorf("failed to list images: %w", err))
	}
	if len(images) == 0 {
		return r.abort(log, outcome, ErrEmptyBatch)
	}

	detector, err := r.models.Load(ctx, req.ModelName)
	if err != nil {
		return r.abort(log, outcome, fmt.Errorf("%w %q: %w", ErrModelLoad, req.ModelName, err))
	}
	defer func() {
		if err := detector.Close(); err != nil {
			log.Warning("Failed to close model %s: %v", req.ModelName, err)
		}
	}()

	outcome.State = dto.RunRunning
	outcome.Total = len(images)
	log.Info("Run started: %d images, model %s", outcome.Total, req.ModelName)

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			outcome.State = dto.RunCancelled
			outcome.FinishedAt = time.Now()
			log.Warning("Run cancelled after %d of %d images", i, outcome.Total)
			return outcome, err
		}

		written, err := r.processImage(ctx, detector, img)
		if err != nil {
			outcome.Skipped++
			outcome.SkippedImageIDs = append(outcome.SkippedImageIDs, img.ID)
			outcome.Err = multierr.Append(outcome.Err, err)
			log.Warning("Run skipped %v", err)
		} else {
			outcome.Processed++
			outcome.DetectionsWritten += written
		}

		publish(dto.DetectionProgressEvent, Percent(i+1, outcome.Total))
	}

	outcome.State = dto.RunCompleted
	outcome.FinishedAt = time.Now()
	log.Info("Run completed: processed=%d skipped=%d detections=%d",
		outcome.Processed, outcome.Skipped, outcome.DetectionsWritten)
	return outcome, nil
}

func (r *Runner) abort(log *logger.Logger, outcome *dto.RunOutcome, err error) (*dto.RunOutcome, error) {
	outcome.State = dto.RunAborted
	outcome.FinishedAt = time.Now()
	log.Warning("Run aborted: %v", err)
	return outcome, err
}

// processImage runs one image through the pipeline and returns the number of
// detections committed. The annotated path and detections are committed together.
func (r *Runner) processImage(ctx context.Context, detector Detector, img model.Image) (int, error) {
	fail := func(stage string, err error) (int, error) {
		return 0, &PerImageError{ImageID: img.ID, Stage: stage, Err: err}
	}

	data, err := r.store.ReadBytes(ctx, img)
	if err != nil {
		return fail("read", err)
	}

	decoded, err := r.decode(data)
	if err != nil {
		return fail("decode", err)
	}

	results, err := detector.Predict(ctx, decoded)
	if err != nil {
		return fail("predict", err)
	}

	rendered, err := r.annotator.Annotate(decoded, results)
	if err != nil {
		return fail("annotate", err)
	}

	annotatedPath, err := r.store.WriteAnnotated(ctx, img, rendered)
	if err != nil {
		return fail("write", err)
	}

	detections := toDetections(img.ID, results)
	if err := r.recorder.ReplaceForImage(img.ID, annotatedPath, detections); err != nil {
		if rmErr := r.store.Remove(annotatedPath); rmErr != nil {
			r.logger.Warning("Failed to discard annotated image %s: %v", annotatedPath, rmErr)
		}
		return fail("commit", err)
	}

	if img.HasAnnotation() && *img.AnnotatedPath != annotatedPath {
		if err := r.store.Remove(*img.AnnotatedPath); err != nil {
			r.logger.Warning("Failed to remove previous annotated image %s: %v", *img.AnnotatedPath, err)
		}
	}

	return len(detections), nil
}

func toDetections(imageID int64, results []dto.DetectionResult) []model.Detection {
	return lo.Map(results, func(res dto.DetectionResult, _ int) model.Detection {
		return model.Detection{
			ImageID:    imageID,
			ClassID:    res.ClassID,
			ClassName:  res.Label,
			Box:        res.Box,
			Confidence: res.Confidence,
		}
	})
}

// Percent returns ceil(100*done/total), clamped to [0, 100].
func Percent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return (done*100 + total - 1) / total
}
