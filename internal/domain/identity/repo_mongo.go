package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/telecare/telecare/internal/platform/docstore"
)

const usersCollection = "users"

// Indexes lists the indexes the users collection relies on.
var Indexes = []docstore.Index{
	{Collection: usersCollection, Model: mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}},
	{Collection: usersCollection, Model: mongo.IndexModel{
		Keys: bson.D{{Key: "role", Value: 1}, {Key: "rating", Value: -1}},
	}},
}

type userDoc struct {
	ID              string               `bson:"_id"`
	Name            string               `bson:"name"`
	Email           string               `bson:"email"`
	Phone           string               `bson:"phone,omitempty"`
	Role            string               `bson:"role"`
	IsVerified      bool                 `bson:"isVerified"`
	IsActive        bool                 `bson:"isActive"`
	Specialization  string               `bson:"specialization,omitempty"`
	ConsultationFee primitive.Decimal128 `bson:"consultationFee"`
	Rating          float64              `bson:"rating"`
	TotalReviews    int                  `bson:"totalReviews"`
	CreatedAt       time.Time            `bson:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
}

func toUserDoc(u *User) (*userDoc, error) {
	fee, err := docstore.ToDecimal128(u.ConsultationFee)
	if err != nil {
		return nil, err
	}
	return &userDoc{
		ID: u.ID.String(), Name: u.Name, Email: u.Email, Phone: u.Phone, Role: u.Role,
		IsVerified: u.IsVerified, IsActive: u.IsActive, Specialization: u.Specialization,
		ConsultationFee: fee, Rating: u.Rating, TotalReviews: u.TotalReviews,
		CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}, nil
}

func (d *userDoc) toUser() (*User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", d.ID, err)
	}
	fee, err := docstore.FromDecimal128(d.ConsultationFee)
	if err != nil {
		return nil, err
	}
	return &User{
		ID: id, Name: d.Name, Email: d.Email, Phone: d.Phone, Role: d.Role,
		IsVerified: d.IsVerified, IsActive: d.IsActive, Specialization: d.Specialization,
		ConsultationFee: fee, Rating: d.Rating, TotalReviews: d.TotalReviews,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

type userRepoMongo struct{ coll *mongo.Collection }

func NewUserRepoMongo(store *docstore.Store) UserRepository {
	return &userRepoMongo{coll: store.Collection(usersCollection)}
}

func (r *userRepoMongo) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	doc, err := toUserDoc(u)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var doc userDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toUser()
}

func (r *userRepoMongo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, err
	}
	return decodeUsers(ctx, cur)
}

func (r *userRepoMongo) ListDoctors(ctx context.Context, f DoctorFilter, limit, offset int) ([]*User, int, error) {
	filter := bson.M{"role": RoleDoctor, "isVerified": true, "isActive": true}
	if f.Specialization != "" {
		filter["specialization"] = primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(f.Specialization) + "$",
			Options: "i",
		}
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "rating", Value: -1}, {Key: "name", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	users, err := decodeUsers(ctx, cur)
	if err != nil {
		return nil, 0, err
	}
	return users, int(total), nil
}

func (r *userRepoMongo) UpdateRating(ctx context.Context, id uuid.UUID, rating float64, totalReviews int) error {
	res, err := r.coll.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{
		"rating":       rating,
		"totalReviews": totalReviews,
		"updatedAt":    time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update doctor rating: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func decodeUsers(ctx context.Context, cur *mongo.Cursor) ([]*User, error) {
	defer cur.Close(ctx)

	var out []*User
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		u, err := doc.toUser()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, cur.Err()
}
