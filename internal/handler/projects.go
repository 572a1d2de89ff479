package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
	"wbcscan/internal/service"
)

type nameBody struct {
	Name string `json:"name"`
}

func batchInfos(manager *service.Manager, imageRepo repository.ImageRepository,
	projectID int64, batches []model.Batch) ([]dto.BatchInfo, error) {
	infos := make([]dto.BatchInfo, 0, len(batches))
	for _, b := range batches {
		count, err := imageRepo.GetTotalCount(&dto.ImageFilters{ProjectID: projectID, BatchIDs: []int64{b.ID}})
		if err != nil {
			return nil, err
		}
		infos = append(infos, dto.BatchInfo{ID: b.ID, Name: b.Name, Images: count, Running: manager.IsRunning(b.ID)})
	}
	return infos, nil
}

// ListProjectsHandler returns the projects of the session user with their batches.
func ListProjectsHandler(manager *service.Manager, logger *logger.Logger,
	projects repository.ProjectRepository, imageRepo repository.ImageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owned, err := projects.GetAllByUser(currentUserID(r))
		if err != nil {
			internalError(w, logger, "list projects", err)
			return
		}

		data := make([]dto.ProjectData, 0, len(owned))
		for _, p := range owned {
			batches, err := projects.GetBatches(p.ID)
			if err != nil {
				internalError(w, logger, "list batches", err)
				return
			}
			infos, err := batchInfos(manager, imageRepo, p.ID, batches)
			if err != nil {
				internalError(w, logger, "count images", err)
				return
			}
			data = append(data, dto.ProjectData{ID: p.ID, Name: p.Name, Batches: infos})
		}
		writeJSON(w, http.StatusOK, data)
	}
}

// CreateProjectHandler handles POST /api/projects.
func CreateProjectHandler(logger *logger.Logger, projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body nameBody
		if err := decodeJSON(r, &body); err != nil || strings.TrimSpace(body.Name) == "" {
			writeMessage(w, http.StatusBadRequest, "Project name required")
			return
		}

		project := &model.Project{UserID: currentUserID(r), Name: strings.TrimSpace(body.Name), CreatedAt: time.Now()}
		id, err := projects.Insert(project)
		if err != nil {
			internalError(w, logger, "create project", err)
			return
		}
		project.ID = id
		logger.Info("Project %d created by user %d", id, project.UserID)
		writeJSON(w, http.StatusCreated, project)
	}
}

// DeleteProjectHandler removes a project, its batches, images and files.
func DeleteProjectHandler(manager *service.Manager, logger *logger.Logger, projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}

		batches, err := projects.GetBatches(project.ID)
		if err != nil {
			internalError(w, logger, "list batches", err)
			return
		}
		if lo.SomeBy(batches, func(b model.Batch) bool { return manager.IsRunning(b.ID) }) {
			writeMessage(w, http.StatusConflict, "Model is running on this project")
			return
		}

		if err := projects.Delete(project.UserID, project.ID); err != nil {
			internalError(w, logger, "delete project", err)
			return
		}
		if err := manager.GetStore().RemoveProject(project.ID); err != nil {
			logger.Warning("Failed to remove files of project %d: %v", project.ID, err)
		}
		manager.GetStats().Invalidate(r.Context(), project.ID)

		logger.Info("Project %d deleted", project.ID)
		writeMessage(w, http.StatusOK, "Project successfully deleted")
	}
}

// ListBatchesHandler returns the batches of a project.
func ListBatchesHandler(manager *service.Manager, logger *logger.Logger,
	projects repository.ProjectRepository, imageRepo repository.ImageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}

		batches, err := projects.GetBatches(project.ID)
		if err != nil {
			internalError(w, logger, "list batches", err)
			return
		}
		infos, err := batchInfos(manager, imageRepo, project.ID, batches)
		if err != nil {
			internalError(w, logger, "count images", err)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

// CreateBatchHandler handles POST /api/projects/{projectID}/batches.
func CreateBatchHandler(logger *logger.Logger, projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}

		var body nameBody
		if err := decodeJSON(r, &body); err != nil || strings.TrimSpace(body.Name) == "" {
			writeMessage(w, http.StatusBadRequest, "Batch name required")
			return
		}
		name := strings.TrimSpace(body.Name)

		existing, err := projects.GetBatches(project.ID)
		if err != nil {
			internalError(w, logger, "list batches", err)
			return
		}
		if lo.ContainsBy(existing, func(b model.Batch) bool { return b.Name == name }) {
			writeMessage(w, http.StatusConflict, "Batch with this name already exists")
			return
		}

		batch := &model.Batch{ProjectID: project.ID, Name: name, CreatedAt: time.Now()}
		id, err := projects.InsertBatch(batch)
		if err != nil {
			internalError(w, logger, "create batch", err)
			return
		}
		batch.ID = id
		writeJSON(w, http.StatusCreated, batch)
	}
}

// DeleteBatchHandler removes a batch with its images and files.
func DeleteBatchHandler(manager *service.Manager, logger *logger.Logger,
	projects repository.ProjectRepository, imageRepo repository.ImageRepository) http.HandlerFunc {
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
		if manager.IsRunning(batchID) {
			writeMessage(w, http.StatusConflict, "Model is running on this batch")
			return
		}

		images, err := imageRepo.GetAll(&dto.ImageFilters{ProjectID: project.ID, BatchIDs: []int64{batchID}})
		if err != nil {
			internalError(w, logger, "list images", err)
			return
		}
		if err := projects.DeleteBatch(project.ID, batchID); err != nil {
			internalError(w, logger, "delete batch", err)
			return
		}
		manager.GetStore().RemoveFiles(images)
		manager.GetStats().Invalidate(r.Context(), project.ID)

		logger.Info("Batch %d of project %d deleted", batchID, project.ID)
		writeMessage(w, http.StatusOK, "Batch successfully deleted")
	}
}
