package app

import (
	"database/sql"
	"net/http"
	"time"

	"gerenciaesportes/internal/app/apiresp"
	"gerenciaesportes/internal/app/observability"
	"gerenciaesportes/internal/attendance"
	"gerenciaesportes/internal/auth"
	internaldb "gerenciaesportes/internal/db"
	"gerenciaesportes/internal/enrollment"
	"gerenciaesportes/internal/masterdata"
	"gerenciaesportes/internal/report"
	"gerenciaesportes/internal/student"
	"gerenciaesportes/internal/teacher"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	metrics := observability.NewCollector(db)
	r.Use(metrics.Middleware)

	authSvc := auth.NewService(db, auth.ServiceConfig{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
	})
	authHandler := auth.NewHandler(authSvc)
	masterdataHandler := masterdata.NewHandler(masterdata.NewService(db))
	teacherHandler := teacher.NewHandler(teacher.NewService(db, authSvc))
	studentHandler := student.NewHandler(student.NewService(db))
	enrollmentHandler := enrollment.NewHandler(enrollment.NewService(db))
	attendanceHandler := attendance.NewHandler(attendance.NewService(db), attendance.WithMarksCounter(metrics.CountMarks))
	reportHandler := report.NewHandler(report.NewService(db))

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database not configured")
			return
		}
		if err := internaldb.Ping(r.Context(), db, 2*time.Second); err != nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"database": "ok"})
	})
	r.Get("/metrics", metrics.MetricsHandler)

	staff := []string{auth.RoleAdmin, auth.RoleCoordinator}
	office := []string{auth.RoleAdmin, auth.RoleCoordinator, auth.RoleAssistant}

	r.Route("/api/v1", func(api chi.Router) {
		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/token", authHandler.Login)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Post("/auth/logout", authHandler.Logout)
			secure.Post("/auth/change-password", authHandler.ChangePassword)
			secure.Get("/users/me", authHandler.Me)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))
				admin.Get("/users", authHandler.ListUsers)
				admin.Get("/users/export.xlsx", authHandler.ExportUsers)
				admin.Post("/users", authHandler.CreateUser)
				admin.Put("/users/{username}/role", authHandler.UpdateUserRole)
				admin.Delete("/users/{id}", authHandler.DeleteUser)
			})

			secure.Get("/modalities", masterdataHandler.ListModalities)
			secure.Get("/modalities/{id}", masterdataHandler.GetModality)
			secure.Get("/classes", masterdataHandler.ListClasses)
			secure.Get("/classes/{id}", masterdataHandler.GetClass)
			secure.Group(func(sr chi.Router) {
				sr.Use(authHandler.RequireRoles(staff...))
				sr.Post("/modalities", masterdataHandler.CreateModality)
				sr.Put("/modalities/{id}", masterdataHandler.UpdateModality)
				sr.Delete("/modalities/{id}", masterdataHandler.DeleteModality)
				sr.Post("/classes", masterdataHandler.CreateClass)
				sr.Put("/classes/{id}", masterdataHandler.UpdateClass)
				sr.Delete("/classes/{id}", masterdataHandler.DeleteClass)

				sr.Get("/teachers", teacherHandler.List)
				sr.Post("/teachers", teacherHandler.Create)
				sr.Delete("/teachers/{id}", teacherHandler.Delete)
			})
			secure.Group(func(tr chi.Router) {
				tr.Use(authHandler.RequireRoles(auth.RoleAdmin, auth.RoleCoordinator, auth.RoleTeacher))
				tr.Get("/teachers/{id}", teacherHandler.Get)
				tr.Put("/teachers/{id}", teacherHandler.Update)
			})

			secure.Get("/students", studentHandler.List)
			secure.Get("/students/export.xlsx", studentHandler.Export)
			secure.Get("/students/{id}", studentHandler.Get)
			secure.Get("/enrollments", enrollmentHandler.List)
			secure.Group(func(or chi.Router) {
				or.Use(authHandler.RequireRoles(office...))
				or.Post("/students", studentHandler.Create)
				or.Put("/students/{id}", studentHandler.Update)
				or.Delete("/students/{id}", studentHandler.Delete)
				or.Post("/enrollments", enrollmentHandler.Create)
				or.Delete("/enrollments/{id}", enrollmentHandler.Cancel)
			})

			secure.Get("/attendance/class/{id}/date/{date}", attendanceHandler.ListByClassDate)
			secure.Get("/attendance/class/{id}/sheet", attendanceHandler.Sheet)
			secure.Post("/attendance/batch", attendanceHandler.SaveBatch)
			secure.Get("/reports/classes/{id}/attendance", reportHandler.ClassFrequency)
		})
	})

	return r
}
