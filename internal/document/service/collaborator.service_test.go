package service

import (
	"context"
	"testing"
	"time"

	"colladoc/internal/document/model"
	"colladoc/pkg/apperror"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var commentCols = []string{"id", "document_id", "user_id", "content", "quote", "text_range", "created_at", "is_resolved"}

func expectDoc(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM documents WHERE id = \\$1").WithArgs("d1").WillReturnRows(docRow("T1", `"C1"`, "alice", 1))
}

func TestAddCollaboratorByOwner(t *testing.T) {
	svc, mock, _ := newService(t)
	expectDoc(mock)
	expectRole(mock, "alice", "")
	mock.ExpectQuery("SELECT id, email, display_name FROM users WHERE email = \\$1").
		WithArgs("bob@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "display_name"}).AddRow("bob", "bob@example.com", "Bob"))
	mock.ExpectExec("INSERT INTO collaborators").
		WithArgs(sqlmock.AnyArg(), "d1", "bob", "editor").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c, err := svc.AddCollaborator(context.Background(), "alice", model.InviteRequest{DocID: "d1", Email: " bob@example.com ", Role: "editor"})
	require.NoError(t, err)
	assert.Equal(t, "bob", c.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCollaboratorRejectsOwnerAndBadRole(t *testing.T) {
	svc, mock, _ := newService(t)
	expectDoc(mock)
	expectRole(mock, "alice", "")

	_, err := svc.AddCollaborator(context.Background(), "alice", model.InviteRequest{DocID: "d1", Email: "x@example.com", Role: "owner"})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	expectDoc(mock)
	expectRole(mock, "alice", "")
	mock.ExpectQuery("FROM users WHERE email = \\$1").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "display_name"}).AddRow("alice", "alice@example.com", "Alice"))

	_, err = svc.AddCollaborator(context.Background(), "alice", model.InviteRequest{DocID: "d1", Email: "alice@example.com", Role: "viewer"})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCollaboratorUnknownEmail(t *testing.T) {
	svc, mock, _ := newService(t)
	expectDoc(mock)
	expectRole(mock, "alice", "")
	mock.ExpectQuery("FROM users WHERE email = \\$1").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "display_name"}))

	_, err := svc.AddCollaborator(context.Background(), "alice", model.InviteRequest{DocID: "d1", Email: "ghost@example.com", Role: "viewer"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestOnlyOwnerManagesCollaborators(t *testing.T) {
	for _, role := range []string{"editor", "viewer"} {
		t.Run(role, func(t *testing.T) {
			svc, mock, hub := newService(t)

			expectDoc(mock)
			expectRole(mock, "bob", role)
			err := svc.UpdateCollaboratorRole(context.Background(), "bob", model.RoleUpdateRequest{DocID: "d1", CollaboratorID: "c2", Role: "editor"})
			assert.ErrorIs(t, err, apperror.ErrForbidden)

			expectDoc(mock)
			expectRole(mock, "bob", role)
			err = svc.RemoveCollaborator(context.Background(), "d1", "bob", "c2")
			assert.ErrorIs(t, err, apperror.ErrForbidden)

			expectDoc(mock)
			expectRole(mock, "bob", role)
			_, err = svc.AddCollaborator(context.Background(), "bob", model.InviteRequest{DocID: "d1", Email: "x@example.com", Role: "viewer"})
			assert.ErrorIs(t, err, apperror.ErrForbidden)

			assert.NoError(t, mock.ExpectationsWereMet())
			assert.Empty(t, hub.evicted)
		})
	}
}

func TestUpdateRoleEvictsAffectedViewer(t *testing.T) {
	svc, mock, hub := newService(t)
	expectDoc(mock)
	expectRole(mock, "alice", "")
	mock.ExpectQuery("SELECT id, document_id, user_id, role FROM collaborators WHERE id = \\$1 AND document_id = \\$2").
		WithArgs("c2", "d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "user_id", "role"}).AddRow("c2", "d1", "vic", "viewer"))
	mock.ExpectExec("UPDATE collaborators SET role = \\$1").
		WithArgs("editor", "c2", "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.UpdateCollaboratorRole(context.Background(), "alice", model.RoleUpdateRequest{DocID: "d1", CollaboratorID: "c2", Role: "editor"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1/vic"}, hub.evicted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveCollaboratorOfAnotherDocument(t *testing.T) {
	svc, mock, hub := newService(t)
	expectDoc(mock)
	expectRole(mock, "alice", "")
	mock.ExpectQuery("FROM collaborators WHERE id = \\$1 AND document_id = \\$2").
		WithArgs("c9", "d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "user_id", "role"}))

	err := svc.RemoveCollaborator(context.Background(), "d1", "alice", "c9")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, hub.evicted)
}

func TestRemoveCollaboratorEvicts(t *testing.T) {
	svc, mock, hub := newService(t)
	expectDoc(mock)
	expectRole(mock, "alice", "")
	mock.ExpectQuery("FROM collaborators WHERE id = \\$1 AND document_id = \\$2").
		WithArgs("c2", "d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "user_id", "role"}).AddRow("c2", "d1", "bob", "editor"))
	mock.ExpectExec("DELETE FROM collaborators WHERE id = \\$1 AND document_id = \\$2").
		WithArgs("c2", "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.RemoveCollaborator(context.Background(), "d1", "alice", "c2"))
	assert.Equal(t, []string{"d1/bob"}, hub.evicted)
}

func TestViewerCanListMembersButNotComment(t *testing.T) {
	svc, mock, hub := newService(t)
	expectDoc(mock)
	expectRole(mock, "vic", "viewer")
	mock.ExpectQuery("UNION ALL").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "name", "role"}).
			AddRow("owner", "alice", "alice@example.com", "Alice", "owner"))

	members, err := svc.ListCollaborators(context.Background(), "d1", "vic")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "owner", string(members[0].Role))

	expectDoc(mock)
	expectRole(mock, "vic", "viewer")
	_, err = svc.AddComment(context.Background(), "vic", model.CommentRequest{DocID: "d1", Content: "nice"})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	assert.Empty(t, hub.notices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCommentNotifiesViewers(t *testing.T) {
	svc, mock, hub := newService(t)
	expectDoc(mock)
	expectRole(mock, "bob", "editor")
	mock.ExpectQuery("INSERT INTO comments").
		WithArgs(sqlmock.AnyArg(), "d1", "bob", "typo here", "teh", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	resp, err := svc.AddComment(context.Background(), "bob", model.CommentRequest{DocID: "d1", Content: "typo here", Quote: "teh"})
	require.NoError(t, err)
	assert.Equal(t, "bob", resp.UserID)
	require.Len(t, hub.notices, 1)
	assert.Equal(t, "COMMENT", hub.notices[0].msgType)
	assert.Equal(t, "bob", hub.notices[0].skipActor)
}

func TestDeleteCommentAuthorOrOwner(t *testing.T) {
	now := time.Now()
	comment := func() *sqlmock.Rows {
		return sqlmock.NewRows(commentCols).AddRow("cm1", "d1", "bob", "hi", "", nil, now, false)
	}

	svc, mock, hub := newService(t)

	// carol is an editor but not the author.
	mock.ExpectQuery("FROM comments WHERE id = \\$1").WithArgs("cm1").WillReturnRows(comment())
	expectDoc(mock)
	expectRole(mock, "carol", "editor")
	err := svc.DeleteComment(context.Background(), "cm1", "carol")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	// alice owns the document.
	mock.ExpectQuery("FROM comments WHERE id = \\$1").WithArgs("cm1").WillReturnRows(comment())
	expectDoc(mock)
	expectRole(mock, "alice", "")
	mock.ExpectExec("DELETE FROM comments WHERE id = \\$1").WithArgs("cm1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.DeleteComment(context.Background(), "cm1", "alice"))

	require.Len(t, hub.notices, 1)
	assert.Equal(t, "COMMENT_DELETE", hub.notices[0].msgType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnknownCommentLooksForbidden(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectQuery("FROM comments WHERE id = \\$1").WithArgs("nope").WillReturnRows(sqlmock.NewRows(commentCols))

	_, err := svc.ResolveComment(context.Background(), "nope", "bob")
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestResolveCommentToggles(t *testing.T) {
	svc, mock, hub := newService(t)
	mock.ExpectQuery("FROM comments WHERE id = \\$1").
		WithArgs("cm1").
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow("cm1", "d1", "bob", "hi", "", nil, time.Now(), false))
	expectDoc(mock)
	expectRole(mock, "bob", "editor")
	mock.ExpectQuery("UPDATE comments SET is_resolved = NOT is_resolved").
		WithArgs("cm1").
		WillReturnRows(sqlmock.NewRows([]string{"is_resolved"}).AddRow(true))

	resolved, err := svc.ResolveComment(context.Background(), "cm1", "bob")
	require.NoError(t, err)
	assert.True(t, resolved)
	require.Len(t, hub.notices, 1)
	assert.Equal(t, "COMMENT_UPDATE", hub.notices[0].msgType)
}
