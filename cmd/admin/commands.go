package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"wbcscan/internal/config"
	"wbcscan/internal/logger"
	"wbcscan/internal/model"
	"wbcscan/internal/repository/sqlite"
	"wbcscan/internal/service/export"
)

func openDB(c *cli.Context) (*sqlite.DB, error) {
	path := c.String(flagDB)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return sqlite.New(path)
}

func parseClasses(s string) []string {
	return lo.Filter(lo.Map(strings.Split(s, ","), func(c string, _ int) string {
		return strings.TrimSpace(c)
	}), func(c string, _ int) bool { return c != "" })
}

func addModelAction(c *cli.Context, cfg *config.Config) error {
	classes := parseClasses(c.String(flagClasses))
	if len(classes) == 0 {
		return fmt.Errorf("at least one class name is required")
	}

	path := c.String(flagPath)
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(cfg.ModelDirectory, resolved)
	}
	if _, err := os.Stat(resolved); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: model file %s is not readable yet: %v\n", resolved, err)
	}

	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := sqlite.NewModelRepository(db).Insert(&model.MLModel{
		Name:       c.String(flagName),
		Path:       path,
		ClassNames: classes,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Registered model %s (id %d) with %d classes\n", c.String(flagName), id, len(classes))
	return nil
}

func listModelsAction(c *cli.Context) error {
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	models, err := sqlite.NewModelRepository(db).GetAll()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPATH\tCLASSES")
	for _, m := range models {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.ID, m.Name, m.Path, strings.Join(m.ClassNames, ","))
	}
	return tw.Flush()
}

func exportAction(c *cli.Context) error {
	db, err := openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()

	out, err := os.Create(c.String(flagOut))
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	exporter := export.NewExporter(sqlite.NewImageRepository(db), sqlite.NewDetectionRepository(db),
		sqlite.NewModelRepository(db), logger.NewNop())
	summary, err := exporter.Write(c.Context, out, c.Int64(flagProject), c.Int64Slice(flagBatch), c.String(flagModel))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(c.String(flagOut))
		return err
	}

	fmt.Fprintf(c.App.Writer, "Wrote %s: %d images, %d detections\n", c.String(flagOut), summary.Images, summary.Detections)
	return nil
}
