package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/utils"
)

func strPtr(s string) *string { return &s }

func newUsers(t *testing.T, f *fixture) (UserService, *models.User, *models.User) {
	t.Helper()
	ctx := context.Background()
	svc := NewUserService(f.users, f.documents, f.convos, quietLogger())

	admin, err := svc.Create(ctx, CreateUserInput{Email: "root@example.com", Password: "password123", Role: models.RoleAdmin})
	require.NoError(t, err)
	user, err := svc.Create(ctx, CreateUserInput{Email: " Ana@Example.com ", Name: "Ana", Password: "password123"})
	require.NoError(t, err)
	return svc, admin, user
}

func TestUserService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, _, user := newUsers(t, f)

	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NoError(t, utils.CheckPassword(stored.PasswordHash, "password123"))

	tests := []struct {
		name string
		in   CreateUserInput
		code utils.Code
	}{
		{"taken email", CreateUserInput{Email: "ana@example.com", Password: "password123"}, utils.CodeConflict},
		{"bad email", CreateUserInput{Email: "nope", Password: "password123"}, utils.CodeInvalidArgument},
		{"short password", CreateUserInput{Email: "b@example.com", Password: "short"}, utils.CodeInvalidArgument},
		{"unknown role", CreateUserInput{Email: "c@example.com", Password: "password123", Role: "root"}, utils.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			assert.True(t, utils.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestUserService_GetSelfOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, admin, user := newUsers(t, f)

	u, err := svc.Get(ctx, Actor{UserID: user.ID}, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, u.Email)

	_, err = svc.Get(ctx, Actor{UserID: user.ID}, admin.ID)
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	_, err = svc.Get(ctx, Actor{UserID: admin.ID, Admin: true}, user.ID)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, Actor{UserID: admin.ID, Admin: true}, "missing")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestUserService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, admin, user := newUsers(t, f)
	self := Actor{UserID: user.ID}

	u, err := svc.Update(ctx, self, user.ID, UserUpdate{Name: strPtr("  Ana B "), Password: strPtr("another-pass")})
	require.NoError(t, err)
	assert.Equal(t, "Ana B", u.Name)
	stored, _ := f.users.GetByID(ctx, user.ID)
	assert.NoError(t, utils.CheckPassword(stored.PasswordHash, "another-pass"))

	role := models.RoleAdmin
	_, err = svc.Update(ctx, self, user.ID, UserUpdate{Role: &role})
	assert.True(t, utils.IsCode(err, utils.CodeForbidden), "users cannot promote themselves")

	_, err = svc.Update(ctx, self, admin.ID, UserUpdate{Name: strPtr("x")})
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))

	_, err = svc.Update(ctx, self, user.ID, UserUpdate{Email: strPtr("root@example.com")})
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	_, err = svc.Update(ctx, self, user.ID, UserUpdate{Password: strPtr("short")})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	u, err = svc.Update(ctx, Actor{UserID: admin.ID, Admin: true}, user.ID, UserUpdate{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
}

func TestUserService_DeleteRemovesOwnedData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, admin, user := newUsers(t, f)
	asAdmin := Actor{UserID: admin.ID, Admin: true}

	doc := f.upload(t, user.ID, "refunds.txt", refundText)
	require.NotEmpty(t, f.engine.DocumentChunks(doc.ID))
	res, err := f.chat.Query(ctx, user.ID, ChatRequest{Query: "What is the refund window?"})
	require.NoError(t, err)

	err = svc.Delete(ctx, Actor{UserID: user.ID}, admin.ID)
	assert.True(t, utils.IsCode(err, utils.CodeForbidden))
	err = svc.Delete(ctx, asAdmin, admin.ID)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	require.NoError(t, svc.Delete(ctx, asAdmin, user.ID))

	_, err = f.users.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	_, err = f.docs.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.Empty(t, f.engine.DocumentChunks(doc.ID))
	_, err = f.convos.GetByID(ctx, res.ConversationID)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	turns, _ := f.convos.ListTurns(ctx, res.ConversationID, 0)
	assert.Empty(t, turns)

	err = svc.Delete(ctx, asAdmin, user.ID)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestAdminService_DocumentsAndChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := NewAdminService(f.users, f.docs, f.convos, f.engine)

	f.upload(t, "owner-1", "refunds.txt", refundText)
	f.upload(t, "owner-2", "long.txt", "The refund window is 30 days. "+strings.Repeat("More refund details follow here. ", 10))

	page, err := admin.Documents(ctx, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Len(t, page.Documents, 2)

	long := "What is the refund window " + strings.Repeat("please ", 30) + "?"
	_, err = f.chat.Query(ctx, "owner-2", ChatRequest{Query: long})
	require.NoError(t, err)

	chats, err := admin.Chats(ctx, 10)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, models.TurnAssistant, chats[0].Role, "newest first")
	assert.Equal(t, "owner-2", chats[1].UserID)
	assert.True(t, strings.HasSuffix(chats[1].Message, "..."))
	assert.Len(t, []rune(chats[1].Message), chatPreviewRunes+3)
}
