package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"wbcscan/internal/config"
	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
	"wbcscan/internal/service/runner"
)

const annotatedDir = "annotated"

// ErrInvalidFormat is returned for uploads that are not PNG, JPEG or BMP files.
var ErrInvalidFormat = errors.New("invalid file format")

var allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true}

// Upload is one file of a multi-file upload.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// UploadResult lists stored images and the names of rejected files.
type UploadResult struct {
	Saved    []model.Image
	Rejected []string
}

// Store keeps image files on disk under one directory per project and batch and
// mirrors them in the image repository.
type Store struct {
	imagesDir string
	imageRepo repository.ImageRepository
	logger    *logger.Logger
}

// NewStore creates a Store rooted at the configured image directory.
func NewStore(config *config.Config, logger *logger.Logger, imageRepo repository.ImageRepository) *Store {
	return &Store{
		imagesDir: config.ImageDirectory,
		imageRepo: imageRepo,
		logger:    logger,
	}
}

// AllowedFile reports whether name has an accepted image extension.
func AllowedFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

func (s *Store) projectDir(projectID int64) string {
	return filepath.Join(s.imagesDir, strconv.FormatInt(projectID, 10))
}

func (s *Store) batchDir(projectID, batchID int64) string {
	return filepath.Join(s.projectDir(projectID), strconv.FormatInt(batchID, 10))
}

// SaveUploads stores each upload in the batch directory and records it. Rejected and
// failed files are skipped. Upload progress is published after every file.
func (s *Store) SaveUploads(ctx context.Context, projectID, batchID int64, uploads []Upload,
	notifier runner.ProgressNotifier) (*UploadResult, error) {
	dir := s.batchDir(projectID, batchID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create batch directory: %w", err)
	}

	result := &UploadResult{}
	for i, upload := range uploads {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		img, err := s.saveUpload(dir, projectID, batchID, upload)
		if err != nil {
			s.logger.Warning("Upload of %q rejected: %v", upload.Name, err)
			result.Rejected = append(result.Rejected, upload.Name)
		} else {
			result.Saved = append(result.Saved, *img)
		}

		if notifier != nil {
			notifier.Publish(dto.UploadProgressEvent, runner.Percent(i+1, len(uploads)))
		}
	}

	s.logger.Info("Stored %d images in batch %d (%d rejected)", len(result.Saved), batchID, len(result.Rejected))
	return result, nil
}

func (s *Store) saveUpload(dir string, projectID, batchID int64, upload Upload) (*model.Image, error) {
	name := filepath.Base(upload.Name)
	if name == "" || name == "." || !AllowedFile(name) {
		return nil, ErrInvalidFormat
	}

	src, err := upload.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	fullpath := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	dst, err := os.Create(fullpath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(fullpath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	img := &model.Image{
		ProjectID: projectID,
		BatchID:   batchID,
		Name:      name,
		FilePath:  fullpath,
		FileSize:  size,
		CreatedAt: time.Now(),
	}
	id, err := s.imageRepo.Insert(img)
	if err != nil {
		os.Remove(fullpath)
		return nil, err
	}
	img.ID = id
	return img, nil
}

// ListImages returns the images of the given batches of a project in ascending ID order.
func (s *Store) ListImages(_ context.Context, projectID int64, batchIDs []int64) ([]model.Image, error) {
	return s.imageRepo.GetAll(&dto.ImageFilters{ProjectID: projectID, BatchIDs: batchIDs})
}

// ReadBytes reads the original file of an image.
func (s *Store) ReadBytes(_ context.Context, img model.Image) ([]byte, error) {
	return os.ReadFile(img.FilePath)
}

// WriteAnnotated stores an annotated rendering under a fresh name and returns its path.
// Earlier renderings are left in place until the caller removes them.
func (s *Store) WriteAnnotated(_ context.Context, img model.Image, data []byte) (string, error) {
	dir := filepath.Join(s.projectDir(img.ProjectID), annotatedDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create annotated directory: %w", err)
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%d_%s.jpg", img.ID, uuid.NewString()))
	if err := os.WriteFile(fullpath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save annotated image: %w", err)
	}
	return fullpath, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the file to serve for an image.
func (s *Store) Path(img *model.Image, annotated bool) (string, error) {
	if !annotated {
		return img.FilePath, nil
	}
	if !img.HasAnnotation() {
		return "", repository.ErrNotFound
	}
	return *img.AnnotatedPath, nil
}

// DeleteImages removes the selected images of a project and their files.
func (s *Store) DeleteImages(projectID int64, ids []int64) (int, error) {
	ids = lo.Uniq(ids)
	var images []model.Image
	for _, id := range ids {
		img, err := s.imageRepo.GetByID(projectID, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		images = append(images, *img)
	}
	if len(images) == 0 {
		return 0, nil
	}

	found := lo.Map(images, func(img model.Image, _ int) int64 { return img.ID })
	if err := s.imageRepo.DeleteByIDs(projectID, found); err != nil {
		return 0, err
	}
	s.RemoveFiles(images)
	return len(images), nil
}

// RemoveFiles deletes the original and annotated files of images whose rows are gone.
func (s *Store) RemoveFiles(images []model.Image) {
	for _, img := range images {
		paths := []string{img.FilePath}
		if img.HasAnnotation() {
			paths = append(paths, *img.AnnotatedPath)
		}
		for _, p := range paths {
			if err := s.Remove(p); err != nil {
				s.logger.Warning("Failed to remove %s: %v", p, err)
			}
		}
	}
}

// RemoveProject deletes every file stored for a project.
func (s *Store) RemoveProject(projectID int64) error {
	return os.RemoveAll(s.projectDir(projectID))
}
