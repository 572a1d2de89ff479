package handler

import (
	"errors"
	"fmt"
	"net/http"

	"wbcscan/internal/config"
	"wbcscan/internal/logger"
	"wbcscan/internal/repository"
	"wbcscan/internal/service/export"
)

// attachmentWriter sets the download headers on the first write so that errors
// found before any archive bytes are produced can still change the status code.
type attachmentWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		a.w.Header().Set("Content-Type", "application/zip")
		a.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.filename))
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}

// ExportHandler streams a YOLO dataset archive of the selected batches.
// Class names come from ?model= or the configured export model.
func ExportHandler(cfg *config.Config, logger *logger.Logger, projects repository.ProjectRepository,
	exporter *export.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}

		batchIDs := parseIDs(r.URL.Query()["batch"])
		if len(batchIDs) == 0 {
			writeMessage(w, http.StatusBadRequest, "Select at least one batch")
			return
		}
		if !ownedBatches(w, projects, logger, project.ID, batchIDs) {
			return
		}
		modelName := r.URL.Query().Get("model")
		if modelName == "" {
			modelName = cfg.ExportModel
		}

		out := &attachmentWriter{w: w, filename: fmt.Sprintf("project_%d_dataset.zip", project.ID)}
		summary, err := exporter.Write(r.Context(), out, project.ID, batchIDs, modelName)
		switch {
		case err == nil:
			logger.Info("Exported %d images and %d detections of project %d",
				summary.Images, summary.Detections, project.ID)
		case out.started:
			logger.Error("Export of project %d failed mid-stream: %v", project.ID, err)
		case errors.Is(err, export.ErrNothingToExport):
			writeMessage(w, http.StatusUnprocessableEntity, "No images to export")
		case errors.Is(err, repository.ErrNotFound):
			writeMessage(w, http.StatusUnprocessableEntity, "Model "+modelName+" is not registered")
		default:
			internalError(w, logger, "export dataset", err)
		}
	}
}
