package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"colladoc/config"
	docHandler "colladoc/internal/document"
	"colladoc/internal/document/repository"
	"colladoc/internal/document/service"
	"colladoc/middleware"
	"colladoc/socket"
)

func Setup(db *sql.DB, hub *socket.Hub, cfg config.Config) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.JWTSecret)

	docService := service.NewDocumentService(
		repository.NewDocumentRepository(db),
		repository.NewVersionRepository(db),
		repository.NewCommentRepository(db),
		hub,
	)
	docHandler := docHandler.NewDocumentHandler(docService)

	// WebSocket
	gateway := &socket.Gateway{Hub: hub, Docs: docService, Quiet: cfg.CoalesceQuiet}
	mux.Handle("/ws", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gateway.ServeWs(w, r, middleware.UserID(r))
	})))

	// REST API
	mux.Handle("/api/documents/create", auth(http.HandlerFunc(docHandler.CreateDocument)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(docHandler.GetDocuments)))
	mux.Handle("/api/documents/get", auth(http.HandlerFunc(docHandler.GetDocument)))
	mux.Handle("/api/documents/save", auth(http.HandlerFunc(docHandler.SaveDocument)))
	mux.Handle("/api/documents/update", auth(http.HandlerFunc(docHandler.UpdateDocument)))
	mux.Handle("/api/documents/delete", auth(http.HandlerFunc(docHandler.DeleteDocument)))
	mux.Handle("/api/documents/versions", auth(http.HandlerFunc(docHandler.GetVersions)))
	mux.Handle("/api/documents/versions/get", auth(http.HandlerFunc(docHandler.GetVersion)))
	mux.Handle("/api/documents/versions/restore", auth(http.HandlerFunc(docHandler.RestoreVersion)))
	mux.Handle("/api/documents/members", auth(http.HandlerFunc(docHandler.GetDocumentMembers)))
	mux.Handle("/api/documents/invite", auth(http.HandlerFunc(docHandler.AddCollaborator)))
	mux.Handle("/api/documents/members/role", auth(http.HandlerFunc(docHandler.UpdateCollaboratorRole)))
	mux.Handle("/api/documents/members/remove", auth(http.HandlerFunc(docHandler.RemoveCollaborator)))
	mux.Handle("/api/documents/comments/add", auth(http.HandlerFunc(docHandler.AddComment)))
	mux.Handle("/api/documents/comments", auth(http.HandlerFunc(docHandler.GetComments)))
	mux.Handle("/api/documents/comments/resolve", auth(http.HandlerFunc(docHandler.ResolveComment)))
	mux.Handle("/api/documents/comments/delete", auth(http.HandlerFunc(docHandler.DeleteComment)))

	mux.HandleFunc("/healthz", health(db))

	return middleware.RequestLogger(middleware.CORSMiddleware(cfg.CORSOrigin)(mux))
}

func health(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
