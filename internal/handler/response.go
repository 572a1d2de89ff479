package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
	"wbcscan/internal/service/session"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	category := dto.CategorySuccess
	if status >= http.StatusBadRequest {
		category = dto.CategoryError
	}
	writeJSON(w, status, dto.Message{Message: message, Category: category})
}

func internalError(w http.ResponseWriter, logger *logger.Logger, action string, err error) {
	logger.Error("Failed to %s: %v", action, err)
	writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// parseIDs accepts repeated query values and comma separated lists: ?batch=1&batch=2,3.
func parseIDs(values []string) []int64 {
	var ids []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err == nil && id > 0 {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func currentUserID(r *http.Request) int64 {
	if data := session.FromContext(r.Context()); data != nil {
		return data.UserID
	}
	return 0
}

// ownedProject loads the {projectID} of the request if it belongs to the session user.
// Anything else is reported as not found.
func ownedProject(w http.ResponseWriter, r *http.Request, projects repository.ProjectRepository,
	logger *logger.Logger) (*model.Project, bool) {
	projectID, ok := pathID(r, "projectID")
	if !ok {
		writeMessage(w, http.StatusNotFound, "Project not found")
		return nil, false
	}
	project, err := projects.GetByID(currentUserID(r), projectID)
	if errors.Is(err, repository.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Project not found")
		return nil, false
	}
	if err != nil {
		internalError(w, logger, "load project", err)
		return nil, false
	}
	return project, true
}

// ownedBatches checks that every id names a batch of the project.
func ownedBatches(w http.ResponseWriter, projects repository.ProjectRepository, logger *logger.Logger,
	projectID int64, batchIDs []int64) bool {
	for _, id := range batchIDs {
		_, err := projects.GetBatch(projectID, id)
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Batch not found")
			return false
		}
		if err != nil {
			internalError(w, logger, "load batch", err)
			return false
		}
	}
	return true
}
