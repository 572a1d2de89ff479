package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/samber/lo"

	"wbcscan/internal/config"
	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
	"wbcscan/internal/service"
	"wbcscan/internal/service/storage"
)

type idsBody struct {
	IDs []int64 `json:"ids"`
}

type uploadResponse struct {
	dto.Message
	Saved    int      `json:"saved"`
	Rejected []string `json:"rejected,omitempty"`
}

// clampPage keeps page within [1, lastPage]. An empty listing has one page.
func clampPage(page, total, perPage int) (int, int) {
	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}
	switch {
	case page < 1:
		page = 1
	case page > lastPage:
		page = lastPage
	}
	return page, lastPage
}

// GetImagesHandler returns one page of the images of a batch with their detection counts.
func GetImagesHandler(cfg *config.Config, logger *logger.Logger, projects repository.ProjectRepository,
	imageRepo repository.ImageRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}
		batchID, ok := pathID(r, "batchID")
		if !ok {
			writeMessage(w, http.StatusNotFound, "Batch not found")
			return
		}
		if !ownedBatches(w, projects, logger, project.ID, []int64{batchID}) {
			return
		}

		filter := &dto.ImageFilters{ProjectID: project.ID, BatchIDs: []int64{batchID}}
		totalCount, err := imageRepo.GetTotalCount(filter)
		if err != nil {
			internalError(w, logger, "count images", err)
			return
		}

		limit := cfg.ImagesPerPage
		if limit <= 0 {
			limit = 10
		}
		page, lastPage := clampPage(atoiDefault(r.URL.Query().Get("page"), 1), totalCount, limit)
		filter.Limit = limit
		filter.Offset = (page - 1) * limit

		images, err := imageRepo.GetAll(filter)
		if err != nil {
			internalError(w, logger, "query images", err)
			return
		}

		counts, err := detectionRepo.CountByImageIDs(lo.Map(images, func(img model.Image, _ int) int64 { return img.ID }))
		if err != nil {
			logger.Error("Error counting detections: %v", err)
			counts = map[int64]int{}
		}

		pictures := make([]dto.ImageInfo, 0, len(images))
		for _, img := range images {
			pictures = append(pictures, dto.ImageInfo{
				ID:         img.ID,
				Name:       img.Name,
				Date:       img.CreatedAt,
				BatchID:    img.BatchID,
				Annotated:  img.HasAnnotation(),
				Detections: counts[img.ID],
			})
		}

		writeJSON(w, http.StatusOK, dto.ImagesData{
			Images:      pictures,
			BatchID:     batchID,
			Length:      totalCount,
			TotalPages:  lastPage,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

// UploadImagesHandler stores the multipart "files" of a request in a batch.
func UploadImagesHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger,
	projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}
		batchID, ok := pathID(r, "batchID")
		if !ok {
			writeMessage(w, http.StatusNotFound, "Batch not found")
			return
		}
		if !ownedBatches(w, projects, logger, project.ID, []int64{batchID}) {
			return
		}

		if cfg.MaxUploadSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeMessage(w, http.StatusBadRequest, "No file part")
			return
		}
		defer r.MultipartForm.RemoveAll()

		files := r.MultipartForm.File["files"]
		if len(files) == 0 {
			writeMessage(w, http.StatusBadRequest, "No selected file")
			return
		}

		uploads := lo.Map(files, func(fh *multipart.FileHeader, _ int) storage.Upload {
			return storage.Upload{Name: fh.Filename, Open: openPart(fh)}
		})
		result, err := manager.Upload(r.Context(), project.UserID, project.ID, batchID, uploads)
		if err != nil {
			internalError(w, logger, "store uploads", err)
			return
		}

		resp := uploadResponse{Saved: len(result.Saved), Rejected: result.Rejected}
		switch {
		case len(result.Saved) == 0:
			resp.Message = dto.Message{Message: "Invalid file format", Category: dto.CategoryError}
			writeJSON(w, http.StatusBadRequest, resp)
		case len(result.Rejected) > 0:
			resp.Message = dto.Message{Message: "Some files had an invalid format and were skipped", Category: dto.CategoryError}
			writeJSON(w, http.StatusOK, resp)
		default:
			resp.Message = dto.Message{Message: "Images uploaded successfully", Category: dto.CategorySuccess}
			writeJSON(w, http.StatusOK, resp)
		}
	}
}

// DeleteImagesHandler removes the selected images of a project.
func DeleteImagesHandler(manager *service.Manager, logger *logger.Logger, projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}

		var body idsBody
		if err := decodeJSON(r, &body); err != nil || len(body.IDs) == 0 {
			writeMessage(w, http.StatusBadRequest, "No images selected")
			return
		}

		deleted, err := manager.DeleteImages(r.Context(), project.ID, body.IDs)
		if err != nil {
			internalError(w, logger, "delete images", err)
			return
		}
		logger.Info("Deleted %d images from project %d", deleted, project.ID)
		writeMessage(w, http.StatusOK, "Images successfully deleted")
	}
}

// ViewImageHandler serves the original image, or the annotated copy with ?annotated=1.
func ViewImageHandler(manager *service.Manager, logger *logger.Logger, projects repository.ProjectRepository,
	imageRepo repository.ImageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}
		imageID, ok := pathID(r, "imageID")
		if !ok {
			writeMessage(w, http.StatusNotFound, "Image not found")
			return
		}

		img, err := imageRepo.GetByID(project.ID, imageID)
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Image not found")
			return
		}
		if err != nil {
			internalError(w, logger, "load image", err)
			return
		}

		annotated := r.URL.Query().Get("annotated")
		path, err := manager.GetStore().Path(img, annotated == "1" || annotated == "true")
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Image has not been annotated yet")
			return
		}
		if err != nil {
			internalError(w, logger, "resolve image path", err)
			return
		}
		http.ServeFile(w, r, path)
	}
}
