package model

import (
	"encoding/json"
	"time"

	"colladoc/internal/access"
)

type Document struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	OwnerID   string          `json:"owner_id"`
	UpdatedBy string          `json:"updated_by"`
	Revision  int64           `json:"revision"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DocumentView is a document as seen by one actor.
type DocumentView struct {
	Document
	Role access.Role `json:"role"`
}

type Collaborator struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	UserID     string      `json:"user_id"`
	Role       access.Role `json:"role"`
}

// Version is an immutable snapshot. CreatedBy is the actor whose edit the
// snapshot preserves, not the actor whose commit triggered it.
type Version struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content,omitempty"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CommitEvent is emitted once per accepted commit.
type CommitEvent struct {
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content"`
	ActorID    string          `json:"actor_id"`
	Revision   int64           `json:"revision"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Actor struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type CreateDocResponse struct {
	DocID string `json:"document_id"`
}

type CollaboratorInfo struct {
	ID     string      `json:"id"`
	UserID string      `json:"user_id"`
	Email  string      `json:"email"`
	Name   string      `json:"name"`
	Role   access.Role `json:"role"`
}

type DocumentMetadata struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	UpdatedAt time.Time          `json:"updated_at"`
	Snippet   string             `json:"snippet"`
	IsOwner   bool               `json:"is_owner"`
	Role      access.Role        `json:"role"`
	Collab    []CollaboratorInfo `json:"collab"`
}

type CreateDocRequest struct {
	Title string `json:"title"`
}

type UpdateDocRequest struct {
	Title string `json:"title"`
}

type SaveDocRequest struct {
	DocID   string          `json:"document_id"`
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

type InviteRequest struct {
	DocID string `json:"document_id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type RoleUpdateRequest struct {
	DocID          string `json:"document_id"`
	CollaboratorID string `json:"collaborator_id"`
	Role           string `json:"role"`
}

type CommentRequest struct {
	DocID     string          `json:"document_id"`
	Content   string          `json:"content"`
	Quote     string          `json:"quote"`
	TextRange json.RawMessage `json:"text_range,omitempty"` // JSON {index, length}
}

type CommentResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Resolved  bool      `json:"resolved"`
	CommentRequest
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
