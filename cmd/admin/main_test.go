package main

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wbcscan/internal/config"
	"wbcscan/internal/model"
	"wbcscan/internal/repository/sqlite"
	"wbcscan/internal/service/export"
)

func runAdmin(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	app := newApp(&config.Config{DatabasePath: dbPath, ModelDirectory: t.TempDir(), ExportModel: "best.onnx"})
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"wbcscan-admin"}, args...))
	return out.String(), err
}

func TestParseClasses(t *testing.T) {
	got := parseClasses(" basophil, eosinophil ,,lymphocyte ")
	want := []string{"basophil", "eosinophil", "lymphocyte"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("parseClasses() = %v, want %v", got, want)
	}
}

func TestModelsAddAndList(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "admin.db")

	out, err := runAdmin(t, dbPath, "models", "add", "--name", "best.onnx", "--path", "best.onnx",
		"--classes", "basophil,eosinophil,lymphocyte,monocyte,neutrophil")
	if err != nil {
		t.Fatalf("models add failed: %v", err)
	}
	if !strings.Contains(out, "Registered model best.onnx") || !strings.Contains(out, "5 classes") {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = runAdmin(t, dbPath, "models", "list")
	if err != nil {
		t.Fatalf("models list failed: %v", err)
	}
	if !strings.Contains(out, "best.onnx") || !strings.Contains(out, "basophil,eosinophil") {
		t.Errorf("Model missing from listing: %s", out)
	}
}

func TestModelsAdd_RequiresClasses(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "admin.db")
	if _, err := runAdmin(t, dbPath, "models", "add", "--name", "m", "--path", "m.onnx", "--classes", " , "); err == nil {
		t.Error("Expected error for empty class list")
	}
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "admin.db")

	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	userID, err := sqlite.NewUserRepository(db).Insert(&model.User{Email: "a@b.c", FirstName: "Al", PasswordHash: "x", TOTPSecret: "y"})
	if err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	projects := sqlite.NewProjectRepository(db)
	projectID, _ := projects.Insert(&model.Project{UserID: userID, Name: "p", CreatedAt: time.Now()})
	batchID, _ := projects.InsertBatch(&model.Batch{ProjectID: projectID, Name: "b", CreatedAt: time.Now()})
	emptyBatch, _ := projects.InsertBatch(&model.Batch{ProjectID: projectID, Name: "empty", CreatedAt: time.Now()})

	imgPath := filepath.Join(dir, "cell.png")
	if err := os.WriteFile(imgPath, []byte("png bytes"), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	imageID, err := sqlite.NewImageRepository(db).Insert(&model.Image{
		ProjectID: projectID, BatchID: batchID, Name: "cell.png", FilePath: imgPath, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to insert image: %v", err)
	}
	if err := sqlite.NewDetectionRepository(db).ReplaceForImage(imageID, imgPath, []model.Detection{
		{ClassID: 2, ClassName: "lymphocyte", Box: model.Box{CX: 0.5, CY: 0.5, Width: 0.1, Height: 0.1}, Confidence: 0.9},
	}); err != nil {
		t.Fatalf("Failed to insert detection: %v", err)
	}
	if _, err := sqlite.NewModelRepository(db).Insert(&model.MLModel{
		Name: "best.onnx", Path: "best.onnx", ClassNames: []string{"basophil", "eosinophil", "lymphocyte"},
	}); err != nil {
		t.Fatalf("Failed to insert model: %v", err)
	}
	db.Close()

	archive := filepath.Join(dir, "out.zip")
	out, err := runAdmin(t, dbPath, "export", "--project", itoa(projectID), "--batch", itoa(batchID), "--out", archive)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.Contains(out, "1 images, 1 detections") {
		t.Errorf("Unexpected output: %s", out)
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("Archive unreadable: %v", err)
	}
	defer zr.Close()
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"classes.txt", "images/cell.png", "labels/cell.txt"} {
		if !names[want] {
			t.Errorf("Archive is missing %s", want)
		}
	}

	emptyArchive := filepath.Join(dir, "empty.zip")
	_, err = runAdmin(t, dbPath, "export", "--project", itoa(projectID), "--batch", itoa(emptyBatch), "--out", emptyArchive)
	if !errors.Is(err, export.ErrNothingToExport) {
		t.Errorf("Expected ErrNothingToExport, got %v", err)
	}
	if _, statErr := os.Stat(emptyArchive); !os.IsNotExist(statErr) {
		t.Error("Failed export must not leave an archive behind")
	}
}
