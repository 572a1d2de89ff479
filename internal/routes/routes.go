package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"wbcscan/internal/config"
	"wbcscan/internal/handler"
	"wbcscan/internal/logger"
	"wbcscan/internal/middleware"
	"wbcscan/internal/repository"
	"wbcscan/internal/service"
	"wbcscan/internal/service/auth"
	"wbcscan/internal/service/export"
	"wbcscan/internal/service/session"
)

// Dependencies groups what the handlers need besides the manager.
type Dependencies struct {
	Projects   repository.ProjectRepository
	Images     repository.ImageRepository
	Detections repository.DetectionRepository
	Models     repository.ModelRepository
	Auth       *auth.Service
	Sessions   *session.Store
	Exporter   *export.Exporter
}

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Auth endpoints
	mux.HandleFunc("POST /auth/sign-up", handler.SignUpHandler(deps.Auth, deps.Sessions, logger))
	mux.HandleFunc("POST /auth/login", handler.LoginHandler(deps.Auth, deps.Sessions, logger))
	mux.HandleFunc("GET /auth/mfa/setup", handler.MFASetupHandler(deps.Auth, deps.Sessions, logger))
	mux.HandleFunc("POST /auth/mfa/verify", handler.MFAVerifyHandler(deps.Auth, deps.Sessions, logger))
	mux.HandleFunc("POST /auth/logout", handler.LogoutHandler(deps.Sessions))
	mux.HandleFunc("GET /api/me", handler.CurrentUserHandler(deps.Auth, logger))

	// Projects and batches
	mux.HandleFunc("GET /api/projects", handler.ListProjectsHandler(manager, logger, deps.Projects, deps.Images))
	mux.HandleFunc("POST /api/projects", handler.CreateProjectHandler(logger, deps.Projects))
	mux.HandleFunc("DELETE /api/projects/{projectID}", handler.DeleteProjectHandler(manager, logger, deps.Projects))
	mux.HandleFunc("GET /api/projects/{projectID}/batches", handler.ListBatchesHandler(manager, logger, deps.Projects, deps.Images))
	mux.HandleFunc("POST /api/projects/{projectID}/batches", handler.CreateBatchHandler(logger, deps.Projects))
	mux.HandleFunc("DELETE /api/projects/{projectID}/batches/{batchID}",
		handler.DeleteBatchHandler(manager, logger, deps.Projects, deps.Images))

	// Images
	mux.HandleFunc("GET /api/projects/{projectID}/batches/{batchID}/images",
		handler.GetImagesHandler(cfg, logger, deps.Projects, deps.Images, deps.Detections))
	mux.HandleFunc("POST /api/projects/{projectID}/batches/{batchID}/images",
		handler.UploadImagesHandler(manager, cfg, logger, deps.Projects))
	mux.HandleFunc("POST /api/projects/{projectID}/images/delete", handler.DeleteImagesHandler(manager, logger, deps.Projects))
	mux.HandleFunc("GET /api/projects/{projectID}/images/{imageID}",
		handler.ViewImageHandler(manager, logger, deps.Projects, deps.Images))

	// Detection runs, statistics and export
	mux.HandleFunc("GET /api/models", handler.ListModelsHandler(logger, deps.Models))
	mux.HandleFunc("POST /api/projects/{projectID}/run", handler.RunModelHandler(manager, logger, deps.Projects))
	mux.HandleFunc("GET /api/projects/{projectID}/stats", handler.GetStatsHandler(manager, logger, deps.Projects))
	mux.HandleFunc("GET /api/projects/{projectID}/classes", handler.GetClassNamesHandler(manager, logger, deps.Projects))
	mux.HandleFunc("GET /api/projects/{projectID}/export", handler.ExportHandler(cfg, logger, deps.Projects, deps.Exporter))
	mux.HandleFunc("GET /api/progress", handler.ProgressWebsocketHandler(manager, logger))

	// Log endpoints, admins only
	mux.Handle("GET /logs/{level}", middleware.RequireAdmin(deps.Auth, logger, handler.ShowLogsHandler(cfg)))
	mux.Handle("POST /logs/{level}/clear", middleware.RequireAdmin(deps.Auth, logger, handler.ClearLogsHandler(logger)))

	mux.Handle("GET /metrics", manager.GetMetrics().Handler())
	mux.HandleFunc("GET /healthz", handler.HealthHandler())

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	// Apply middleware
	return middleware.AuthMiddleware(deps.Sessions, mux)
}
