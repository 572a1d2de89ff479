package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/lo"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/repository"
	"wbcscan/internal/service"
	"wbcscan/internal/service/runner"
)

type runBody struct {
	BatchIDs []int64 `json:"batchIds"`
	Model    string  `json:"model"`
}

type runResponse struct {
	dto.Message
	Outcome *dto.RunOutcome `json:"outcome,omitempty"`
}

// ListModelsHandler returns the registered detection models.
func ListModelsHandler(logger *logger.Logger, models repository.ModelRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := models.GetAll()
		if err != nil {
			internalError(w, logger, "list models", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

// RunModelHandler runs a detection model over the selected batches of a project.
// The run finishes even if the client goes away; progress is pushed over the
// progress WebSocket.
func RunModelHandler(manager *service.Manager, logger *logger.Logger, projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}

		var body runBody
		if err := decodeJSON(r, &body); err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		batchIDs := lo.Uniq(body.BatchIDs)
		if len(batchIDs) == 0 {
			writeMessage(w, http.StatusBadRequest, "Select at least one batch")
			return
		}
		if body.Model == "" {
			writeMessage(w, http.StatusBadRequest, "Select a model")
			return
		}
		if !ownedBatches(w, projects, logger, project.ID, batchIDs) {
			return
		}

		outcome, err := manager.RunDetection(r.Context(), dto.RunRequest{
			UserID:    currentUserID(r),
			ProjectID: project.ID,
			BatchIDs:  batchIDs,
			ModelName: body.Model,
		})
		switch {
		case errors.Is(err, runner.ErrRunInProgress):
			writeMessage(w, http.StatusConflict, "Model is already running on the selected batches")
		case errors.Is(err, service.ErrShuttingDown), errors.Is(err, context.Canceled):
			writeJSON(w, http.StatusServiceUnavailable, runResponse{
				Message: dto.Message{Message: "Server is shutting down, run stopped", Category: dto.CategoryError},
				Outcome: outcome,
			})
		case errors.Is(err, runner.ErrEmptyBatch):
			writeJSON(w, http.StatusUnprocessableEntity, runResponse{
				Message: dto.Message{Message: "No images to run model", Category: dto.CategoryError},
				Outcome: outcome,
			})
		case errors.Is(err, runner.ErrModelLoad):
			logger.Error("Run on project %d: %v", project.ID, err)
			writeJSON(w, http.StatusUnprocessableEntity, runResponse{
				Message: dto.Message{Message: "Failed to load model " + body.Model, Category: dto.CategoryError},
				Outcome: outcome,
			})
		case err != nil:
			internalError(w, logger, "run model", err)
		default:
			writeJSON(w, http.StatusOK, runResponse{
				Message: dto.Message{Message: "Model successfully run", Category: dto.CategorySuccess},
				Outcome: outcome,
			})
		}
	}
}
