// Package export packages images and their detections as a YOLO dataset archive.
package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

// ErrNothingToExport is returned when the selected batches contain no images.
var ErrNothingToExport = errors.New("no images to export")

// Exporter writes zip archives with classes.txt, images/ and labels/.
type Exporter struct {
	images     repository.ImageRepository
	detections repository.DetectionRepository
	models     repository.ModelRepository
	logger     *logger.Logger
}

// NewExporter creates an Exporter.
func NewExporter(images repository.ImageRepository, detections repository.DetectionRepository,
	models repository.ModelRepository, logger *logger.Logger) *Exporter {
	return &Exporter{images: images, detections: detections, models: models, logger: logger}
}

// Summary counts the entries written to an archive.
type Summary struct {
	Images     int
	Detections int
}

// Write streams the archive of the selected batches to w. Class names come from
// the registered model modelName.
func (e *Exporter) Write(ctx context.Context, w io.Writer, projectID int64, batchIDs []int64, modelName string) (*Summary, error) {
	registered, err := e.models.GetByName(modelName)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", modelName, err)
	}

	images, err := e.images.GetAll(&dto.ImageFilters{ProjectID: projectID, BatchIDs: lo.Uniq(batchIDs)})
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrNothingToExport
	}

	zw := zip.NewWriter(w)
	summary := &Summary{}

	if err := writeEntry(zw, "classes.txt", classesFile(registered.ClassNames)); err != nil {
		return nil, err
	}

	used := map[string]bool{}
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := archiveName(img, used)
		detections, err := e.detections.GetByImageID(img.ID)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", img.ID, err)
		}

		if err := copyFile(zw, "images/"+name, img.FilePath); err != nil {
			return nil, fmt.Errorf("image %d: %w", img.ID, err)
		}
		if err := writeEntry(zw, "labels/"+stem(name)+".txt", LabelFile(detections)); err != nil {
			return nil, err
		}

		summary.Images++
		summary.Detections += len(detections)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	e.logger.Info("Exported %d images with %d detections from project %d", summary.Images, summary.Detections, projectID)
	return summary, nil
}

func classesFile(names []string) string {
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.String()
}

// LabelFile renders detections as YOLO label lines "classId cx cy w h".
func LabelFile(detections []model.Detection) string {
	var b strings.Builder
	for _, d := range detections {
		b.WriteString(strconv.Itoa(d.ClassID))
		for _, v := range []float64{d.Box.CX, d.Box.CY, d.Box.Width, d.Box.Height} {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// archiveName returns the image's name, prefixed with its ID when the name or its
// label file would collide with an earlier image.
func archiveName(img model.Image, used map[string]bool) string {
	name := filepath.Base(img.Name)
	if used["i:"+name] || used["l:"+stem(name)] {
		name = fmt.Sprintf("%d_%s", img.ID, name)
	}
	used["i:"+name] = true
	used["l:"+stem(name)] = true
	return name
}

func writeEntry(zw *zip.Writer, name, content string) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	_, err = io.WriteString(f, content)
	return err
}

func copyFile(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	_, err = io.Copy(dst, src)
	return err
}
