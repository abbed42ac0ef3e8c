package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eegportal.org/internal/users"
)

var _ users.Store = (*Users)(nil)

type userDoc struct {
	ID            string             `bson:"_id"`
	Email         string             `bson:"email"`
	Password      string             `bson:"password"`
	FirstName     string             `bson:"firstName"`
	LastName      string             `bson:"lastName"`
	Name          string             `bson:"name,omitempty"`
	IsAdmin       bool               `bson:"isAdmin"`
	AssignedFiles []string           `bson:"assignedFiles"`
	CreatedAt     primitive.DateTime `bson:"createdAt"`
}

func toUserDoc(u *users.User) userDoc {
	assigned := u.AssignedFiles
	if assigned == nil {
		assigned = []string{}
	}
	return userDoc{
		ID:            u.ID,
		Email:         u.Email,
		Password:      u.PasswordHash,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		IsAdmin:       u.IsAdmin,
		AssignedFiles: assigned,
		CreatedAt:     primitive.NewDateTimeFromTime(u.CreatedAt),
	}
}

func (d userDoc) user() *users.User {
	assigned := d.AssignedFiles
	if assigned == nil {
		assigned = []string{}
	}
	first := d.FirstName
	if first == "" && d.LastName == "" {
		// Older records carry a single name field.
		first = d.Name
	}
	return &users.User{
		ID:            d.ID,
		Email:         d.Email,
		PasswordHash:  d.Password,
		FirstName:     first,
		LastName:      d.LastName,
		IsAdmin:       d.IsAdmin,
		AssignedFiles: assigned,
		CreatedAt:     d.CreatedAt.Time().UTC(),
	}
}

type Users struct {
	coll *mongo.Collection
}

func NewUsers(coll *mongo.Collection) *Users { return &Users{coll: coll} }

func (s *Users) Create(ctx context.Context, u *users.User) error {
	if u == nil || u.ID == "" || u.Email == "" {
		return users.ErrInvalidInput
	}
	_, err := s.coll.InsertOne(ctx, toUserDoc(u))
	if mongo.IsDuplicateKeyError(err) {
		return users.ErrConflict
	}
	return err
}

func (s *Users) Find(ctx context.Context, id string) (*users.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *Users) findOne(ctx context.Context, filter bson.M) (*users.User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.user(), nil
}

// AppendAssignedFiles applies $addToSet with $each in a single document
// update and derives the added names from the pre-image, which is exactly
// the state the update was applied to.
func (s *Users) AppendAssignedFiles(ctx context.Context, email string, names []string) ([]string, []string, error) {
	update := bson.M{"$addToSet": bson.M{"assignedFiles": bson.M{"$each": names}}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.M{"assignedFiles": 1})

	var before userDoc
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"email": email}, update, opts).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil, users.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	added := users.MergeNew(before.AssignedFiles, names)
	assigned := append(append([]string{}, before.AssignedFiles...), added...)
	return added, assigned, nil
}

func (s *Users) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}
