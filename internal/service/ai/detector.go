package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"wbcscan/internal/config"
	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/repository"
	"wbcscan/internal/service/ai/yolo"
	"wbcscan/internal/service/runner"
)

// ModelLoader opens registered ONNX models with the OpenCV DNN module.
type ModelLoader struct {
	models    repository.ModelRepository
	modelDir  string
	inputSize int
	conf      float64
	nms       float64
	logger    *logger.Logger
}

// NewModelLoader creates a loader that resolves model names through the model repository.
func NewModelLoader(config *config.Config, models repository.ModelRepository, logger *logger.Logger) *ModelLoader {
	return &ModelLoader{
		models:    models,
		modelDir:  config.ModelDirectory,
		inputSize: config.ModelInputSize,
		conf:      config.ConfidenceThreshold,
		nms:       config.NMSThreshold,
		logger:    logger,
	}
}

// Load resolves name to a model file and initializes the network.
func (l *ModelLoader) Load(ctx context.Context, name string) (runner.Detector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	registered, err := l.models.GetByName(name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("model %q is not registered", name)
	}
	if err != nil {
		return nil, err
	}

	path := registered.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.modelDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file not found: %s", path)
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", path)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	l.logger.Info("Detection network %s initialized from %s", name, path)
	return &Detector{
		net: net,
		params: yolo.Params{
			InputSize:     l.inputSize,
			ConfThreshold: l.conf,
			NMSThreshold:  l.nms,
			ClassNames:    registered.ClassNames,
		},
	}, nil
}

// Detector runs a YOLOv8 ONNX network. A gocv.Net is not safe for concurrent
// forward passes, so Predict is serialized.
type Detector struct {
	net    gocv.Net
	params yolo.Params
	mu     sync.Mutex
}

// Predict letterboxes img, runs the network and decodes the boxes in image-normalized form.
func (d *Detector) Predict(ctx context.Context, img image.Image) ([]dto.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	square, _ := yolo.Letterbox(img)
	mat, err := gocv.ImageToMatRGB(square)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %v", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(
		mat,
		1.0/255.0,
		image.Pt(d.params.InputSize, d.params.InputSize),
		gocv.NewScalar(0, 0, 0, 0),
		true,
		false,
	)
	defer blob.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// YOLOv8 output is [1, 4+classes, anchors].
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("unexpected output dimensions %v", sizes)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %v", err)
	}

	return yolo.Decode(data, sizes[1], sizes[2], bounds.Dx(), bounds.Dy(), d.params)
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.net.Empty() {
		return d.net.Close()
	}
	return nil
}
