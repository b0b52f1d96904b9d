// Package mongodb implements auth.UserStore on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"inkpost.org/internal/auth"
)

const (
	usersCollection = "users"
	usernameIndex   = "username_1"
	emailIndex      = "email_1"
)

// userDocument is the stored shape of a user.
type userDocument struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Email        string        `bson:"email"`
	Username     string        `bson:"username"`
	FullName     string        `bson:"fullName"`
	PasswordHash string        `bson:"password,omitempty"`
	Role         string        `bson:"role"`
	Status       string        `bson:"status"`
	RefreshToken *string       `bson:"refreshToken,omitempty"`
	LastLogin    *time.Time    `bson:"lastLogin,omitempty"`
	CreatedAt    time.Time     `bson:"createdAt"`
	UpdatedAt    time.Time     `bson:"updatedAt"`
}

// Store is a MongoDB-backed user store.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	now    func() time.Time
}

var _ auth.UserStore = (*Store)(nil)

// Open connects to uri, verifies the connection and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	s := &Store{
		client: client,
		users:  client.Database(database).Collection(usersCollection),
		now:    time.Now,
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the unique username and email indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName(usernameIndex)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName(emailIndex)},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string, includeSensitive bool) (*auth.User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: auth.NormalizeEmail(email)}}, includeSensitive)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findOne(ctx, bson.D{{Key: "username", Value: auth.NormalizeUsername(username)}}, false)
}

func (s *Store) FindByID(ctx context.Context, id string, includeSensitive bool) (*auth.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}}, includeSensitive)
}

func (s *Store) Create(ctx context.Context, nu auth.NewUser) (*auth.User, error) {
	now := s.now().UTC()
	doc := newDocument(nu, now)
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return nil, mapDuplicateKey(err)
	}
	u := doc.toUser()
	u.PasswordHash = ""
	return u, nil
}

func (s *Store) UpdateByID(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, auth.ErrNotFound
	}
	return s.findOneAndUpdate(ctx, oid, updateDocument(upd, s.now().UTC()))
}

func (s *Store) ClearRefreshToken(ctx context.Context, id string) (*auth.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, auth.ErrNotFound
	}
	return s.findOneAndUpdate(ctx, oid, clearTokenDocument(s.now().UTC()))
}

// List returns all users sorted by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]*auth.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetProjection(publicProjection)
	cur, err := s.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]*auth.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toUser())
	}
	return users, nil
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return auth.ErrNotFound
	}
	res, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// ValidID reports whether id is a hex ObjectID.
func ValidID(id string) bool {
	_, err := bson.ObjectIDFromHex(id)
	return err == nil
}

func (s *Store) findOne(ctx context.Context, filter bson.D, includeSensitive bool) (*auth.User, error) {
	opts := options.FindOne()
	if !includeSensitive {
		opts.SetProjection(publicProjection)
	}
	var doc userDocument
	if err := s.users.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return doc.toUser(), nil
}

func (s *Store) findOneAndUpdate(ctx context.Context, id bson.ObjectID, update bson.D) (*auth.User, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(publicProjection)
	var doc userDocument
	err := s.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, mapDuplicateKey(err)
	}
	return doc.toUser(), nil
}

var publicProjection = bson.D{{Key: "password", Value: 0}, {Key: "refreshToken", Value: 0}}

func newDocument(nu auth.NewUser, now time.Time) *userDocument {
	role := nu.Role
	if role == "" {
		role = auth.RoleUser
	}
	status := nu.Status
	if status == "" {
		status = auth.StatusActive
	}
	return &userDocument{
		ID:           bson.NewObjectID(),
		Email:        auth.NormalizeEmail(nu.Email),
		Username:     auth.NormalizeUsername(nu.Username),
		FullName:     nu.FullName,
		PasswordHash: nu.PasswordHash,
		Role:         string(role),
		Status:       string(status),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (d *userDocument) toUser() *auth.User {
	u := &auth.User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		Username:     d.Username,
		FullName:     d.FullName,
		PasswordHash: d.PasswordHash,
		Role:         auth.Role(d.Role),
		Status:       auth.Status(d.Status),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if d.RefreshToken != nil {
		token := *d.RefreshToken
		u.RefreshToken = &token
	}
	if d.LastLogin != nil {
		at := d.LastLogin.UTC()
		u.LastLoginAt = &at
	}
	return u
}

// updateDocument builds a $set from the non-nil fields of upd.
func updateDocument(upd auth.UserUpdate, now time.Time) bson.D {
	set := bson.D{}
	if upd.FullName != nil {
		set = append(set, bson.E{Key: "fullName", Value: *upd.FullName})
	}
	if upd.Email != nil {
		set = append(set, bson.E{Key: "email", Value: auth.NormalizeEmail(*upd.Email)})
	}
	if upd.PasswordHash != nil {
		set = append(set, bson.E{Key: "password", Value: *upd.PasswordHash})
	}
	if upd.RefreshToken != nil {
		set = append(set, bson.E{Key: "refreshToken", Value: *upd.RefreshToken})
	}
	if upd.LastLoginAt != nil {
		set = append(set, bson.E{Key: "lastLogin", Value: upd.LastLoginAt.UTC()})
	}
	set = append(set, bson.E{Key: "updatedAt", Value: now})
	return bson.D{{Key: "$set", Value: set}}
}

func clearTokenDocument(now time.Time) bson.D {
	return bson.D{
		{Key: "$unset", Value: bson.D{{Key: "refreshToken", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: now}}},
	}
}

func mapDuplicateKey(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, usernameIndex):
		return auth.ErrDuplicateUsername
	case strings.Contains(msg, emailIndex):
		return auth.ErrDuplicateEmail
	default:
		return fmt.Errorf("%w: %v", auth.ErrConflict, err)
	}
}
