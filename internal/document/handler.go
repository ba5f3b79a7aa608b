package handler

import (
	"encoding/json"
	"net/http"

	"colladoc/internal/document/model"
	"colladoc/internal/document/service"
	"colladoc/middleware"
	"colladoc/pkg/apperror"
	"colladoc/pkg/logger"
)

type DocumentHandler struct {
	Service *service.DocumentService
}

func NewDocumentHandler(service *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{Service: service}
}

func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req model.CreateDocRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // An empty body falls back to the default title.

	doc, err := h.Service.CreateDocument(r.Context(), middleware.UserID(r), req.Title)
	if err != nil {
		writeError(w, r, "create document", err)
		return
	}
	writeJSON(w, http.StatusCreated, model.CreateDocResponse{DocID: doc.ID})
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	docs, err := h.Service.ListDocuments(r.Context(), middleware.UserID(r))
	if err != nil {
		writeError(w, r, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}

	doc, err := h.Service.GetDocument(r.Context(), docID, middleware.UserID(r))
	if err != nil {
		writeError(w, r, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req model.SaveDocRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DocID == "" {
		writeError(w, r, "save document", apperror.Invalid("document_id is required"))
		return
	}

	doc, err := h.Service.CommitDocument(r.Context(), req.DocID, middleware.UserID(r), req.Title, req.Content)
	if err != nil {
		writeError(w, r, "save document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}

	var req model.UpdateDocRequest
	if !decode(w, r, &req) {
		return
	}

	doc, err := h.Service.RenameDocument(r.Context(), docID, middleware.UserID(r), req.Title)
	if err != nil {
		writeError(w, r, "rename document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}

	if err := h.Service.DeleteDocument(r.Context(), docID, middleware.UserID(r)); err != nil {
		writeError(w, r, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) GetVersions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}

	versions, err := h.Service.ListVersions(r.Context(), docID, middleware.UserID(r))
	if err != nil {
		writeError(w, r, "list versions", err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *DocumentHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}
	versionID, ok := requireQuery(w, r, "versionId")
	if !ok {
		return
	}

	version, err := h.Service.GetVersion(r.Context(), docID, middleware.UserID(r), versionID)
	if err != nil {
		writeError(w, r, "get version", err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *DocumentHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}
	versionID, ok := requireQuery(w, r, "versionId")
	if !ok {
		return
	}

	doc, err := h.Service.RestoreVersion(r.Context(), docID, middleware.UserID(r), versionID)
	if err != nil {
		writeError(w, r, "restore version", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) GetDocumentMembers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}

	members, err := h.Service.ListCollaborators(r.Context(), docID, middleware.UserID(r))
	if err != nil {
		writeError(w, r, "list members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *DocumentHandler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req model.InviteRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.Service.AddCollaborator(r.Context(), middleware.UserID(r), req)
	if err != nil {
		writeError(w, r, "add collaborator", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *DocumentHandler) UpdateCollaboratorRole(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}

	var req model.RoleUpdateRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Service.UpdateCollaboratorRole(r.Context(), middleware.UserID(r), req); err != nil {
		writeError(w, r, "update collaborator role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}
	collaboratorID, ok := requireQuery(w, r, "collaboratorId")
	if !ok {
		return
	}

	if err := h.Service.RemoveCollaborator(r.Context(), docID, middleware.UserID(r), collaboratorID); err != nil {
		writeError(w, r, "remove collaborator", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req model.CommentRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.Service.AddComment(r.Context(), middleware.UserID(r), req)
	if err != nil {
		writeError(w, r, "add comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *DocumentHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	docID, ok := requireQuery(w, r, "docId")
	if !ok {
		return
	}

	comments, err := h.Service.GetComments(r.Context(), docID, middleware.UserID(r))
	if err != nil {
		writeError(w, r, "get comments", err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *DocumentHandler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	commentID, ok := requireQuery(w, r, "commentId")
	if !ok {
		return
	}

	resolved, err := h.Service.ResolveComment(r.Context(), commentID, middleware.UserID(r))
	if err != nil {
		writeError(w, r, "resolve comment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": commentID, "resolved": resolved})
}

func (h *DocumentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	commentID, ok := requireQuery(w, r, "commentId")
	if !ok {
		return
	}

	if err := h.Service.DeleteComment(r.Context(), commentID, middleware.UserID(r)); err != nil {
		writeError(w, r, "delete comment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func requireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeError(w, r, "read query", apperror.Invalid("missing "+name+" parameter"))
		return "", false
	}
	return v, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, "decode body", apperror.Invalid("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to encode response: %v", err)
	}
}

// writeError maps err onto its HTTP status. Only the stable message reaches
// the client; the cause is logged.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	appErr := apperror.From(err)
	requestID := middleware.RequestID(r.Context())
	if appErr.Kind == apperror.KindStorageUnavailable {
		logger.Sugar.Errorf("Handler: Failed to %s (request %s): %v", op, requestID, err)
	} else {
		logger.Sugar.Debugf("Handler: %s rejected (request %s): %v", op, requestID, err)
	}
	writeJSON(w, appErr.Kind.HTTPStatus(), model.ErrorResponse{Code: string(appErr.Kind), Error: appErr.Message})
}
