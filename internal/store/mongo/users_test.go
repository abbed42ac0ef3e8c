package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"eegportal.org/internal/files"
	"eegportal.org/internal/users"
)

func userDocument(email string, assigned ...string) bson.D {
	list := bson.A{}
	for _, a := range assigned {
		list = append(list, a)
	}
	return bson.D{
		{Key: "_id", Value: "01HX0000000000000000000000"},
		{Key: "email", Value: email},
		{Key: "password", Value: "$2a$10$hash"},
		{Key: "firstName", Value: "Jane"},
		{Key: "lastName", Value: "Doe"},
		{Key: "isAdmin", Value: false},
		{Key: "assignedFiles", Value: list},
		{Key: "createdAt", Value: primitive.NewDateTimeFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
	}
}

func TestUsersStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		err := NewUsers(mt.Coll).Create(context.Background(), &users.User{ID: "u1", Email: "jane.doe@eeg.com"})
		require.NoError(mt, err)
	})

	mt.Run("create duplicate", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error",
		}))
		err := NewUsers(mt.Coll).Create(context.Background(), &users.User{ID: "u1", Email: "jane.doe@eeg.com"})
		assert.ErrorIs(mt, err, users.ErrConflict)
	})

	mt.Run("find legacy user", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		legacy := bson.D{
			{Key: "_id", Value: "01HX0000000000000000000001"},
			{Key: "email", Value: "old.user@eeg.com"},
			{Key: "password", Value: "$2a$10$hash"},
			{Key: "name", Value: "Old User"},
			{Key: "isAdmin", Value: true},
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, legacy))
		u, err := NewUsers(mt.Coll).FindByEmail(context.Background(), "old.user@eeg.com")
		require.NoError(mt, err)
		assert.Equal(mt, "Old User", u.FirstName)
		assert.Equal(mt, "Old User", u.DisplayName())
		assert.Equal(mt, []string{}, u.AssignedFiles)
	})

	mt.Run("find by email", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, userDocument("jane.doe@eeg.com", "fileA")))
		u, err := NewUsers(mt.Coll).FindByEmail(context.Background(), "jane.doe@eeg.com")
		require.NoError(mt, err)
		assert.Equal(mt, "jane.doe@eeg.com", u.Email)
		assert.Equal(mt, "$2a$10$hash", u.PasswordHash)
		assert.Equal(mt, []string{"fileA"}, u.AssignedFiles)
		assert.Equal(mt, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), u.CreatedAt)
	})

	mt.Run("find missing", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		_, err := NewUsers(mt.Coll).FindByEmail(context.Background(), "ghost@eeg.com")
		assert.True(mt, errors.Is(err, users.ErrNotFound))
	})

	mt.Run("append assigned files", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: userDocument("jane.doe@eeg.com", "fileA", "fileB")},
		))
		added, assigned, err := NewUsers(mt.Coll).AppendAssignedFiles(context.Background(), "jane.doe@eeg.com", []string{"fileB", "fileC"})
		require.NoError(mt, err)
		assert.Equal(mt, []string{"fileC"}, added)
		assert.Equal(mt, []string{"fileA", "fileB", "fileC"}, assigned)
	})
}

func TestFilesStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create duplicate", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error",
		}))
		err := NewFiles(mt.Coll).Create(context.Background(), &files.File{ID: "f1", FileName: "a.edf"})
		assert.ErrorIs(mt, err, files.ErrConflict)
	})

	mt.Run("find by name", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "f1"},
			{Key: "fileName", Value: "a.edf"},
			{Key: "mimeType", Value: "application/edf"},
			{Key: "size", Value: int64(42)},
			{Key: "storageKey", Value: "files/2024/01/f1/a.edf"},
			{Key: "createdAt", Value: primitive.NewDateTimeFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
		}))
		f, err := NewFiles(mt.Coll).FindByName(context.Background(), "a.edf")
		require.NoError(mt, err)
		assert.Equal(mt, "application/edf", f.MimeType)
		assert.EqualValues(mt, 42, f.Size)
		assert.Equal(mt, "files/2024/01/f1/a.edf", f.StorageKey)
	})

	mt.Run("delete missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))
		err := NewFiles(mt.Coll).Delete(context.Background(), "f1")
		assert.ErrorIs(mt, err, files.ErrNotFound)
	})
}

func TestUserDocDefaults(t *testing.T) {
	doc := toUserDoc(&users.User{ID: "u1", Email: "a@eeg.com"})
	assert.NotNil(t, doc.AssignedFiles)
	assert.Empty(t, doc.AssignedFiles)

	u := userDoc{ID: "u1", Email: "a@eeg.com"}.user()
	assert.NotNil(t, u.AssignedFiles)

	u = userDoc{FirstName: "Jane", LastName: "Doe", Name: "Legacy"}.user()
	assert.Equal(t, "Jane Doe", u.DisplayName())
}
