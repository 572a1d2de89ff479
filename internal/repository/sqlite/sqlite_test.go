package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wbcscan/internal/dto"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

// ========================================
// Test Setup Helpers
// ========================================

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

type fixture struct {
	db       *DB
	users    *UserRepository
	projects *ProjectRepository
	images   *ImageRepository
	dets     *DetectionRepository
	userID   int64
	project  int64
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	f := &fixture{
		db:       db,
		users:    NewUserRepository(db),
		projects: NewProjectRepository(db),
		images:   NewImageRepository(db),
		dets:     NewDetectionRepository(db),
	}

	var err error
	f.userID, err = f.users.Insert(&model.User{Email: "lab@example.com", FirstName: "Ada", PasswordHash: "x", TOTPSecret: "S"})
	if err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	f.project, err = f.projects.Insert(&model.Project{UserID: f.userID, Name: "smears", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("Failed to insert project: %v", err)
	}
	return f
}

func (f *fixture) batch(t *testing.T, name string) int64 {
	t.Helper()
	id, err := f.projects.InsertBatch(&model.Batch{ProjectID: f.project, Name: name, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("Failed to insert batch: %v", err)
	}
	return id
}

func (f *fixture) image(t *testing.T, batchID int64, name string) int64 {
	t.Helper()
	id, err := f.images.Insert(&model.Image{
		ProjectID: f.project,
		BatchID:   batchID,
		Name:      name,
		FilePath:  "/images/" + name,
		FileSize:  1024,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to insert image: %v", err)
	}
	return id
}

func detections(n int) []model.Detection {
	out := make([]model.Detection, n)
	for i := range out {
		out[i] = model.Detection{
			ClassID:    i % 2,
			ClassName:  []string{"lymphocyte", "monocyte"}[i%2],
			Box:        model.Box{CX: 0.5, CY: 0.5, Width: 0.1, Height: 0.1},
			Confidence: 0.9,
		}
	}
	return out
}

func countRows(t *testing.T, db *DB, table string) int {
	t.Helper()
	var n int
	if err := db.Conn().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

// ========================================
// Database Tests
// ========================================

func TestDatabase_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestDatabase_MigrationIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := New(dbPath)
		if err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		db.Close()
	}
}

// ========================================
// Image Repository Tests
// ========================================

func TestImageRepository_InsertAndGet(t *testing.T) {
	f := setupFixture(t)
	batch := f.batch(t, "b1")
	id := f.image(t, batch, "smear_01.jpg")

	img, err := f.images.GetByID(f.project, id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if img.Name != "smear_01.jpg" || img.BatchID != batch {
		t.Errorf("Unexpected image: %+v", img)
	}
	if img.AnnotatedPath != nil {
		t.Error("New image should have no annotated path")
	}
	if img.HasAnnotation() {
		t.Error("HasAnnotation should be false")
	}
}

func TestImageRepository_GetByID_OtherProject(t *testing.T) {
	f := setupFixture(t)
	id := f.image(t, f.batch(t, "b1"), "a.jpg")

	_, err := f.images.GetByID(f.project+100, id)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestImageRepository_GetAll_OrderedAndPaged(t *testing.T) {
	f := setupFixture(t)
	b1 := f.batch(t, "b1")
	b2 := f.batch(t, "b2")
	var ids []int64
	for i := 0; i < 5; i++ {
		batch := b1
		if i%2 == 1 {
			batch = b2
		}
		ids = append(ids, f.image(t, batch, "img"+string(rune('a'+i))+".jpg"))
	}

	all, err := f.images.GetAll(&dto.ImageFilters{ProjectID: f.project, BatchIDs: []int64{b1, b2}})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 images, got %d", len(all))
	}
	for i := range all {
		if all[i].ID != ids[i] {
			t.Errorf("Expected ascending id order, position %d got %d want %d", i, all[i].ID, ids[i])
		}
	}

	page, err := f.images.GetAll(&dto.ImageFilters{ProjectID: f.project, BatchIDs: []int64{b1}, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("GetAll page failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[2] {
		t.Errorf("Unexpected page: %+v", page)
	}

	count, err := f.images.GetTotalCount(&dto.ImageFilters{ProjectID: f.project, BatchIDs: []int64{b1}})
	if err != nil {
		t.Fatalf("GetTotalCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 images in b1, got %d", count)
	}
}

func TestImageRepository_GetAll_NoBatches(t *testing.T) {
	f := setupFixture(t)
	f.image(t, f.batch(t, "b1"), "a.jpg")

	images, err := f.images.GetAll(&dto.ImageFilters{ProjectID: f.project})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("Expected no images without batch selection, got %d", len(images))
	}
}

func TestImageRepository_DeleteByIDs_CascadesDetections(t *testing.T) {
	f := setupFixture(t)
	batch := f.batch(t, "b1")
	keep := f.image(t, batch, "keep.jpg")
	drop := f.image(t, batch, "drop.jpg")

	if err := f.dets.ReplaceForImage(keep, "/a/keep.jpg", detections(2)); err != nil {
		t.Fatalf("ReplaceForImage failed: %v", err)
	}
	if err := f.dets.ReplaceForImage(drop, "/a/drop.jpg", detections(3)); err != nil {
		t.Fatalf("ReplaceForImage failed: %v", err)
	}

	if err := f.images.DeleteByIDs(f.project, []int64{drop}); err != nil {
		t.Fatalf("DeleteByIDs failed: %v", err)
	}

	left, _ := f.dets.GetByImageID(drop)
	if len(left) != 0 {
		t.Errorf("Expected 0 detections after cascade delete, got %d", len(left))
	}
	if got := countRows(t, f.db, "detections"); got != 2 {
		t.Errorf("Expected 2 detections to remain, got %d", got)
	}
}

// ========================================
// Detection Repository Tests
// ========================================

func TestDetectionRepository_ReplaceForImage_Replaces(t *testing.T) {
	f := setupFixture(t)
	id := f.image(t, f.batch(t, "b1"), "a.jpg")

	if err := f.dets.ReplaceForImage(id, "/ann/1.jpg", detections(3)); err != nil {
		t.Fatalf("first replace failed: %v", err)
	}
	if err := f.dets.ReplaceForImage(id, "/ann/2.jpg", detections(3)); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}

	got, err := f.dets.GetByImageID(id)
	if err != nil {
		t.Fatalf("GetByImageID failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 detections after re-run, got %d", len(got))
	}

	img, _ := f.images.GetByID(f.project, id)
	if !img.HasAnnotation() || *img.AnnotatedPath != "/ann/2.jpg" {
		t.Errorf("Expected annotated path /ann/2.jpg, got %v", img.AnnotatedPath)
	}
}

func TestDetectionRepository_ReplaceForImage_ZeroDetections(t *testing.T) {
	f := setupFixture(t)
	id := f.image(t, f.batch(t, "b1"), "empty.jpg")

	if err := f.dets.ReplaceForImage(id, "/ann/empty.jpg", nil); err != nil {
		t.Fatalf("ReplaceForImage failed: %v", err)
	}

	img, _ := f.images.GetByID(f.project, id)
	if !img.HasAnnotation() {
		t.Error("Image with zero detections should still be annotated")
	}
}

func TestDetectionRepository_ReplaceForImage_MissingImage(t *testing.T) {
	f := setupFixture(t)

	err := f.dets.ReplaceForImage(9999, "/ann/x.jpg", detections(1))
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if got := countRows(t, f.db, "detections"); got != 0 {
		t.Errorf("Expected no detections written, got %d", got)
	}
}

func TestDetectionRepository_ReplaceForImage_RollsBack(t *testing.T) {
	f := setupFixture(t)
	id := f.image(t, f.batch(t, "b1"), "a.jpg")
	if err := f.dets.ReplaceForImage(id, "/ann/old.jpg", detections(2)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Every detection insert now fails, so the transaction aborts after the update.
	if _, err := f.db.Conn().Exec(`CREATE TRIGGER fail_insert BEFORE INSERT ON detections BEGIN SELECT RAISE(ABORT, 'boom'); END;`); err != nil {
		t.Fatalf("Failed to create trigger: %v", err)
	}

	if err := f.dets.ReplaceForImage(id, "/ann/new.jpg", detections(1)); err == nil {
		t.Fatal("Expected replace to fail")
	}

	img, _ := f.images.GetByID(f.project, id)
	if *img.AnnotatedPath != "/ann/old.jpg" {
		t.Errorf("Annotated path should be unchanged, got %s", *img.AnnotatedPath)
	}
	if got, _ := f.dets.GetByImageID(id); len(got) != 2 {
		t.Errorf("Old detections should survive a failed replace, got %d", len(got))
	}
}

func TestDetectionRepository_CountAndCascade(t *testing.T) {
	f := setupFixture(t)
	batch := f.batch(t, "b1")
	a := f.image(t, batch, "a.jpg")
	b := f.image(t, batch, "b.jpg")

	if err := f.dets.ReplaceForImage(a, "/a_annotated.jpg", []model.Detection{{ClassID: 1, ClassName: "monocyte"}}); err != nil {
		t.Fatalf("ReplaceForImage failed: %v", err)
	}
	if err := f.dets.ReplaceForImage(b, "/b_annotated.jpg", detections(2)); err != nil {
		t.Fatalf("ReplaceForImage failed: %v", err)
	}

	counts, err := f.dets.CountByImageIDs([]int64{a, b})
	if err != nil {
		t.Fatalf("CountByImageIDs failed: %v", err)
	}
	if counts[a] != 1 || counts[b] != 2 {
		t.Errorf("Unexpected counts: %v", counts)
	}

	if err := f.images.DeleteByIDs(f.project, []int64{b}); err != nil {
		t.Fatalf("DeleteByIDs failed: %v", err)
	}
	if got, _ := f.dets.GetByImageID(b); len(got) != 0 {
		t.Errorf("Detections should cascade with their image, got %d", len(got))
	}
}

func TestDetectionRepository_CountByClassAndBatch(t *testing.T) {
	f := setupFixture(t)
	b1 := f.batch(t, "day1")
	b2 := f.batch(t, "day2")
	f.dets.ReplaceForImage(f.image(t, b1, "a.jpg"), "/x", detections(3)) // 2 lymphocyte, 1 monocyte
	f.dets.ReplaceForImage(f.image(t, b2, "b.jpg"), "/y", detections(2)) // 1 lymphocyte, 1 monocyte

	rows, err := f.dets.CountByClassAndBatch(dto.StatsQuery{ProjectID: f.project, BatchIDs: []int64{b1, b2}})
	if err != nil {
		t.Fatalf("CountByClassAndBatch failed: %v", err)
	}
	want := []dto.ClassCount{
		{ClassName: "lymphocyte", BatchName: "day1", Count: 2},
		{ClassName: "lymphocyte", BatchName: "day2", Count: 1},
		{ClassName: "monocyte", BatchName: "day1", Count: 1},
		{ClassName: "monocyte", BatchName: "day2", Count: 1},
	}
	if len(rows) != len(want) {
		t.Fatalf("Expected %d rows, got %d: %+v", len(want), len(rows), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d: got %+v want %+v", i, rows[i], want[i])
		}
	}

	filtered, err := f.dets.CountByClassAndBatch(dto.StatsQuery{
		ProjectID: f.project, BatchIDs: []int64{b1}, ClassNames: []string{"Monocyte"},
	})
	if err != nil {
		t.Fatalf("filtered query failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Count != 1 {
		t.Errorf("Unexpected filtered rows: %+v", filtered)
	}

	names, err := f.dets.GetClassNames(f.project)
	if err != nil {
		t.Fatalf("GetClassNames failed: %v", err)
	}
	if len(names) != 2 || names[0] != "lymphocyte" {
		t.Errorf("Unexpected class names: %v", names)
	}
}

// ========================================
// Project / Batch Repository Tests
// ========================================

func TestProjectRepository_Ownership(t *testing.T) {
	f := setupFixture(t)

	if _, err := f.projects.GetByID(f.userID+1, f.project); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for foreign user, got %v", err)
	}
	if err := f.projects.Delete(f.userID+1, f.project); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting foreign project, got %v", err)
	}

	list, err := f.projects.GetAllByUser(f.userID)
	if err != nil {
		t.Fatalf("GetAllByUser failed: %v", err)
	}
	if len(list) != 1 || list[0].Name != "smears" {
		t.Errorf("Unexpected projects: %+v", list)
	}
}

func TestProjectRepository_DuplicateBatchName(t *testing.T) {
	f := setupFixture(t)
	f.batch(t, "b1")

	if _, err := f.projects.InsertBatch(&model.Batch{ProjectID: f.project, Name: "b1", CreatedAt: time.Now()}); err == nil {
		t.Error("Expected error for duplicate batch name")
	}
}

func TestProjectRepository_DeleteBatch_Cascades(t *testing.T) {
	f := setupFixture(t)
	doomed := f.batch(t, "doomed")
	other := f.batch(t, "other")
	for i := 0; i < 3; i++ {
		id := f.image(t, doomed, "d.jpg")
		f.dets.ReplaceForImage(id, "/ann", detections(2))
	}
	f.dets.ReplaceForImage(f.image(t, other, "o.jpg"), "/ann", detections(1))

	if err := f.projects.DeleteBatch(f.project, doomed); err != nil {
		t.Fatalf("DeleteBatch failed: %v", err)
	}

	count, _ := f.images.GetTotalCount(&dto.ImageFilters{ProjectID: f.project, BatchIDs: []int64{doomed}})
	if count != 0 {
		t.Errorf("Expected 0 images in deleted batch, got %d", count)
	}
	if got := countRows(t, f.db, "detections"); got != 1 {
		t.Errorf("Expected only the other batch's detection to remain, got %d", got)
	}
	if _, err := f.projects.GetBatch(f.project, doomed); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected deleted batch to be gone, got %v", err)
	}
}

func TestProjectRepository_Delete_Cascades(t *testing.T) {
	f := setupFixture(t)
	batch := f.batch(t, "b1")
	f.dets.ReplaceForImage(f.image(t, batch, "a.jpg"), "/ann", detections(2))

	if err := f.projects.Delete(f.userID, f.project); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, table := range []string{"projects", "batches", "images", "detections"} {
		if got := countRows(t, f.db, table); got != 0 {
			t.Errorf("Expected %s to be empty, got %d", table, got)
		}
	}
}

// ========================================
// User / Model Repository Tests
// ========================================

func TestUserRepository_DuplicateEmail(t *testing.T) {
	f := setupFixture(t)

	_, err := f.users.Insert(&model.User{Email: "lab@example.com", FirstName: "Bob", PasswordHash: "y", TOTPSecret: "T"})
	if err == nil {
		t.Error("Expected error for duplicate email")
	}

	u, err := f.users.GetByEmail("lab@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if u.FirstName != "Ada" {
		t.Errorf("Expected Ada, got %s", u.FirstName)
	}

	if _, err := f.users.GetByID(12345); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestModelRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewModelRepository(db)

	classes := []string{"basophil", "eosinophil", "lymphocyte"}
	if _, err := repo.Insert(&model.MLModel{Name: "best.onnx", Path: "/models/best.onnx", ClassNames: classes}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := repo.Insert(&model.MLModel{Name: "best.onnx", Path: "/models/v2.onnx", ClassNames: classes}); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	m, err := repo.GetByName("best.onnx")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if m.Path != "/models/v2.onnx" {
		t.Errorf("Expected updated path, got %s", m.Path)
	}
	if len(m.ClassNames) != 3 || m.ClassNames[2] != "lymphocyte" {
		t.Errorf("Unexpected class names: %v", m.ClassNames)
	}

	all, _ := repo.GetAll()
	if len(all) != 1 {
		t.Errorf("Expected 1 model, got %d", len(all))
	}

	if _, err := repo.GetByName("missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
