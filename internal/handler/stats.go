package handler

import (
	"errors"
	"net/http"
	"strings"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/repository"
	"wbcscan/internal/service"
	"wbcscan/internal/service/stats"
)

func statsQuery(r *http.Request, projectID int64) dto.StatsQuery {
	q := r.URL.Query()
	var classes []string
	for _, v := range q["class"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				classes = append(classes, c)
			}
		}
	}
	return dto.StatsQuery{ProjectID: projectID, BatchIDs: parseIDs(q["batch"]), ClassNames: classes}
}

// GetStatsHandler returns class counts per batch, as JSON or as a PNG chart with ?format=png.
func GetStatsHandler(manager *service.Manager, logger *logger.Logger, projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}

		plotType, err := stats.NormalizePlotType(r.URL.Query().Get("plot"))
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Plot type must be bar or pie")
			return
		}
		query := statsQuery(r, project.ID)
		if !ownedBatches(w, projects, logger, project.ID, query.BatchIDs) {
			return
		}

		if r.URL.Query().Get("format") == "png" {
			chart, err := manager.GetStats().Chart(r.Context(), query, plotType)
			if err != nil {
				internalError(w, logger, "render chart", err)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Cache-Control", "no-cache")
			w.Write(chart)
			return
		}

		data, err := manager.GetStats().Summary(r.Context(), query, plotType)
		if errors.Is(err, stats.ErrInvalidPlotType) {
			writeMessage(w, http.StatusBadRequest, "Plot type must be bar or pie")
			return
		}
		if err != nil {
			internalError(w, logger, "query statistics", err)
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

// GetClassNamesHandler lists the class names detected anywhere in a project.
func GetClassNamesHandler(manager *service.Manager, logger *logger.Logger, projects repository.ProjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(w, r, projects, logger)
		if !ok {
			return
		}
		names, err := manager.GetStats().ClassNames(project.ID)
		if err != nil {
			internalError(w, logger, "list class names", err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, names)
	}
}
