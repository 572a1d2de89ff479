// Package stats aggregates detections per class and batch and renders charts.
package stats

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"

	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
	"wbcscan/internal/repository"
	"wbcscan/internal/service/cache"
)

const (
	PlotBar = "bar"
	PlotPie = "pie"
)

// ErrInvalidPlotType is returned for plot types other than bar and pie.
var ErrInvalidPlotType = errors.New("invalid plot type")

// Service answers statistics queries from the cache or the detection repository.
type Service struct {
	detections repository.DetectionRepository
	cache      *cache.StatsCache
	logger     *logger.Logger
}

// NewService creates a statistics service. cache may be nil.
func NewService(detections repository.DetectionRepository, cache *cache.StatsCache, logger *logger.Logger) *Service {
	return &Service{detections: detections, cache: cache, logger: logger}
}

// NormalizePlotType maps user input to PlotBar or PlotPie.
func NormalizePlotType(plotType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(plotType)) {
	case "", PlotBar:
		return PlotBar, nil
	case PlotPie:
		return PlotPie, nil
	default:
		return "", ErrInvalidPlotType
	}
}

// Counts returns the class counts matching query.
func (s *Service) Counts(ctx context.Context, query dto.StatsQuery) ([]dto.ClassCount, error) {
	query.BatchIDs = lo.Uniq(query.BatchIDs)
	if len(query.BatchIDs) == 0 {
		return nil, nil
	}

	rows, slot, ok := s.cache.Get(ctx, query)
	if ok {
		return rows, nil
	}

	rows, err := s.detections.CountByClassAndBatch(query)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, slot, rows)
	return rows, nil
}

// Summary returns the counts together with their total for the given plot type.
func (s *Service) Summary(ctx context.Context, query dto.StatsQuery, plotType string) (*dto.StatsData, error) {
	plotType, err := NormalizePlotType(plotType)
	if err != nil {
		return nil, err
	}

	rows, err := s.Counts(ctx, query)
	if err != nil {
		return nil, err
	}

	return &dto.StatsData{
		PlotType: plotType,
		Rows:     rows,
		Total:    lo.SumBy(rows, func(r dto.ClassCount) int { return r.Count }),
	}, nil
}

// Chart renders the counts of query as a PNG chart.
func (s *Service) Chart(ctx context.Context, query dto.StatsQuery, plotType string) ([]byte, error) {
	plotType, err := NormalizePlotType(plotType)
	if err != nil {
		return nil, err
	}

	rows, err := s.Counts(ctx, query)
	if err != nil {
		return nil, err
	}

	if plotType == PlotPie {
		return PieChart(rows)
	}
	return BarChart(rows)
}

// ClassNames lists the distinct detected classes of a project.
func (s *Service) ClassNames(projectID int64) ([]string, error) {
	return s.detections.GetClassNames(projectID)
}

// Invalidate drops cached statistics of a project.
func (s *Service) Invalidate(ctx context.Context, projectID int64) {
	s.cache.Invalidate(ctx, projectID)
}
