package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"copyflow.org/internal/auth"
	"copyflow.org/internal/content"
	"copyflow.org/internal/ids"
	"copyflow.org/internal/workflow"
)

// Store persists content, comments and users in MongoDB. Optimistic
// concurrency rides on a version field filter plus $inc, so a stale writer
// simply matches no document.
type Store struct {
	client   *mongo.Client
	content  *mongo.Collection
	comments *mongo.Collection
	counters *mongo.Collection
	users    *mongo.Collection
	now      func() time.Time
}

var (
	_ content.Store  = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

// Open connects to the given URI and binds the named database.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	db := client.Database(dbName)
	return &Store{
		client:   client,
		content:  db.Collection("content"),
		comments: db.Collection("comments"),
		counters: db.Collection("counters"),
		users:    db.Collection("users"),
		now:      time.Now,
	}, nil
}

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the indexes the queries rely on. Safe to call at
// every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.content.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "created_by.user_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.comments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "content_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "org_id", Value: 1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}},
	})
	return err
}

type authorDoc struct {
	UserID string `bson:"user_id"`
	Name   string `bson:"name"`
}

type publicationDoc struct {
	Channel     string    `bson:"channel"`
	PublishedBy authorDoc `bson:"published_by"`
	PublishedAt time.Time `bson:"published_at"`
	ExternalRef string    `bson:"external_ref,omitempty"`
}

type itemDoc struct {
	ID               string           `bson:"_id"`
	OrgID            string           `bson:"org_id"`
	Title            string           `bson:"title"`
	Prompt           string           `bson:"prompt"`
	GeneratedContent string           `bson:"generated_content"`
	EditedContent    string           `bson:"edited_content"`
	Status           string           `bson:"status"`
	CreatedBy        authorDoc        `bson:"created_by"`
	CreatedAt        time.Time        `bson:"created_at"`
	UpdatedAt        time.Time        `bson:"updated_at"`
	Version          int64            `bson:"version"`
	Publications     []publicationDoc `bson:"publications,omitempty"`
}

type commentDoc struct {
	ID        string    `bson:"_id"`
	ContentID string    `bson:"content_id"`
	OrgID     string    `bson:"org_id"`
	Text      string    `bson:"text"`
	AuthorID  string    `bson:"author_id"`
	Author    string    `bson:"author_name"`
	Role      string    `bson:"author_role"`
	CreatedAt time.Time `bson:"created_at"`
	Seq       uint64    `bson:"seq"`
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Role      string    `bson:"role"`
	OrgID     string    `bson:"org_id"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (s *Store) CreateContent(ctx context.Context, item *content.Item) (*content.Item, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil item", content.ErrValidation)
	}
	cp := *item
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.Version == 0 {
		cp.Version = 1
	}
	if _, err := s.content.InsertOne(ctx, toItemDoc(cp)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: duplicate id %s", content.ErrConflict, cp.ID)
		}
		return nil, err
	}
	return &cp, nil
}

func (s *Store) GetContent(ctx context.Context, orgID, id string) (*content.Item, error) {
	var doc itemDoc
	err := s.content.FindOne(ctx, bson.M{"_id": id, "org_id": orgID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: content %s", content.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return fromItemDoc(doc), nil
}

func (s *Store) ListContent(ctx context.Context, orgID string, f content.ListFilter) ([]content.Item, error) {
	filter := bson.M{"org_id": orgID}
	if f.CreatedBy != "" {
		filter["created_by.user_id"] = f.CreatedBy
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		filter["status"] = bson.M{"$in": statuses}
	}

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.content.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]content.Item, 0)
	for cur.Next(ctx) {
		var doc itemDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *fromItemDoc(doc))
	}
	return out, cur.Err()
}

func (s *Store) UpdateContent(ctx context.Context, orgID, id string, expectedVersion int64, upd content.Update) (*content.Item, error) {
	set := bson.M{"version": expectedVersion + 1}
	if upd.EditedContent != nil {
		set["edited_content"] = *upd.EditedContent
	}
	if upd.Status != nil {
		set["status"] = string(*upd.Status)
	}
	if upd.UpdatedAt.IsZero() {
		set["updated_at"] = s.now().UTC()
	} else {
		set["updated_at"] = upd.UpdatedAt
	}
	update := bson.M{"$set": set}
	if upd.AddPublication != nil {
		p := upd.AddPublication
		update["$push"] = bson.M{"publications": publicationDoc{
			Channel:     p.Channel,
			PublishedBy: authorDoc{UserID: p.PublishedBy.UserID, Name: p.PublishedBy.Name},
			PublishedAt: p.PublishedAt,
			ExternalRef: p.ExternalRef,
		}}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc itemDoc
	err := s.content.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "org_id": orgID, "version": expectedVersion},
		update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Tell a stale version apart from a missing document.
		var current itemDoc
		probe := s.content.FindOne(ctx, bson.M{"_id": id, "org_id": orgID},
			options.FindOne().SetProjection(bson.M{"version": 1}))
		switch err := probe.Decode(&current); {
		case errors.Is(err, mongo.ErrNoDocuments):
			return nil, fmt.Errorf("%w: content %s", content.ErrNotFound, id)
		case err != nil:
			return nil, err
		default:
			return nil, fmt.Errorf("%w: content %s at version %d, expected %d", content.ErrConflict, id, current.Version, expectedVersion)
		}
	}
	if err != nil {
		return nil, err
	}
	return fromItemDoc(doc), nil
}

func (s *Store) AddComment(ctx context.Context, orgID, contentID string, c *content.Comment) (*content.Comment, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil comment", content.ErrValidation)
	}
	if err := s.contentExists(ctx, orgID, contentID); err != nil {
		return nil, err
	}
	seq, err := s.nextSeq(ctx, "comments")
	if err != nil {
		return nil, err
	}

	cp := *c
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	cp.ContentID = contentID
	cp.CreatedAt = s.now().UTC()
	cp.Seq = seq
	if _, err := s.comments.InsertOne(ctx, commentDoc{
		ID:        cp.ID,
		ContentID: contentID,
		OrgID:     orgID,
		Text:      cp.Text,
		AuthorID:  cp.CreatedBy.UserID,
		Author:    cp.CreatedBy.Name,
		Role:      string(cp.CreatedBy.Role),
		CreatedAt: cp.CreatedAt,
		Seq:       cp.Seq,
	}); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) ListComments(ctx context.Context, orgID, contentID string) ([]content.Comment, error) {
	if err := s.contentExists(ctx, orgID, contentID); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	cur, err := s.comments.Find(ctx, bson.M{"content_id": contentID, "org_id": orgID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]content.Comment, 0)
	for cur.Next(ctx) {
		var doc commentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, content.Comment{
			ID:        doc.ID,
			ContentID: doc.ContentID,
			Text:      doc.Text,
			CreatedBy: content.CommentAuthor{
				UserID: doc.AuthorID,
				Name:   doc.Author,
				Role:   workflow.Role(doc.Role),
			},
			CreatedAt: doc.CreatedAt,
			Seq:       doc.Seq,
		})
	}
	return out, cur.Err()
}

func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", auth.ErrInvalidInput)
	}
	_, err := s.users.InsertOne(ctx, userDoc{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		OrgID:     user.OrgID,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: user %s", auth.ErrConflict, user.ID)
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, email)
}

func (s *Store) ListUsers(ctx context.Context, orgID string) ([]auth.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{"org_id": orgID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]auth.User, 0)
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *fromUserDoc(doc))
	}
	return out, cur.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	set := bson.M{"updated_at": s.now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Role != nil {
		set["role"] = string(*upd.Role)
	}
	if upd.OrgID != nil {
		set["org_id"] = *upd.OrgID
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return fromUserDoc(doc), nil
}

func (s *Store) contentExists(ctx context.Context, orgID, id string) error {
	err := s.content.FindOne(ctx, bson.M{"_id": id, "org_id": orgID},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: content %s", content.ErrNotFound, id)
	}
	return err
}

func (s *Store) nextSeq(ctx context.Context, name string) (uint64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Value uint64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": 1}},
		opts).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M, key string) (*auth.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return fromUserDoc(doc), nil
}

func toItemDoc(it content.Item) itemDoc {
	doc := itemDoc{
		ID:               it.ID,
		OrgID:            it.OrgID,
		Title:            it.Title,
		Prompt:           it.Prompt,
		GeneratedContent: it.GeneratedContent,
		EditedContent:    it.EditedContent,
		Status:           string(it.Status),
		CreatedBy:        authorDoc{UserID: it.CreatedBy.UserID, Name: it.CreatedBy.Name},
		CreatedAt:        it.CreatedAt,
		UpdatedAt:        it.UpdatedAt,
		Version:          it.Version,
	}
	for _, p := range it.Publications {
		doc.Publications = append(doc.Publications, publicationDoc{
			Channel:     p.Channel,
			PublishedBy: authorDoc{UserID: p.PublishedBy.UserID, Name: p.PublishedBy.Name},
			PublishedAt: p.PublishedAt,
			ExternalRef: p.ExternalRef,
		})
	}
	return doc
}

func fromItemDoc(doc itemDoc) *content.Item {
	it := &content.Item{
		ID:               doc.ID,
		OrgID:            doc.OrgID,
		Title:            doc.Title,
		Prompt:           doc.Prompt,
		GeneratedContent: doc.GeneratedContent,
		EditedContent:    doc.EditedContent,
		Status:           workflow.Status(doc.Status),
		CreatedBy:        content.Author{UserID: doc.CreatedBy.UserID, Name: doc.CreatedBy.Name},
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		Version:          doc.Version,
	}
	for _, p := range doc.Publications {
		it.Publications = append(it.Publications, content.Publication{
			Channel:     p.Channel,
			PublishedBy: content.Author{UserID: p.PublishedBy.UserID, Name: p.PublishedBy.Name},
			PublishedAt: p.PublishedAt,
			ExternalRef: p.ExternalRef,
		})
	}
	return it
}

func fromUserDoc(doc userDoc) *auth.User {
	return &auth.User{
		ID:        doc.ID,
		Name:      doc.Name,
		Email:     doc.Email,
		Role:      workflow.Role(doc.Role),
		OrgID:     doc.OrgID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
