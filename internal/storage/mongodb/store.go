// Package mongodb implements the persistence gateway on MongoDB.
//
// Numeric ids come from a counters collection so both backends expose the same
// identifiers. MongoDB has no foreign keys; restrict-on-delete is checked
// inside the delete transaction, which needs a replica set deployment.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tms/internal/models"
	"tms/internal/storage"
)

// Store keeps users, tasks and revoked tokens in a MongoDB database.
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	tasks    *mongo.Collection
	counters *mongo.Collection
	revoked  *mongo.Collection
	logger   *slog.Logger
}

type userDoc struct {
	ID           int64     `bson:"_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	CreatedAt    time.Time `bson:"created_at"`
}

type taskDoc struct {
	ID           int64     `bson:"_id"`
	Title        string    `bson:"title"`
	Description  string    `bson:"description"`
	DueDate      time.Time `bson:"due_date"`
	Priority     string    `bson:"priority"`
	Status       string    `bson:"status"`
	CreatedByID  int64     `bson:"created_by_id"`
	AssignedToID *int64    `bson:"assigned_to_id"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// Open connects to uri, selects database and ensures indexes exist.
func Open(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty mongo uri")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		users:    db.Collection("users"),
		tasks:    db.Collection("tasks"),
		counters: db.Collection("counters"),
		revoked:  db.Collection("revoked_tokens"),
		logger:   logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Debug("mongo store ready", slog.String("database", database))
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}
	if _, err := s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "assigned_to_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_by_id", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("task indexes: %w", err)
	}
	if _, err := s.revoked.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}); err != nil {
		return fmt.Errorf("revoked token index: %w", err)
	}
	return nil
}

func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return out.Seq, nil
}

func (d userDoc) model() (models.User, error) {
	role, err := models.ParseRole(d.Role)
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: d.ID, Username: d.Username, PasswordHash: d.PasswordHash, Role: role, CreatedAt: d.CreatedAt}, nil
}

// CreateUser inserts a user; a taken username yields storage.ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if strings.TrimSpace(u.Username) == "" {
		return models.User{}, fmt.Errorf("username must not be empty")
	}
	id, err := s.nextID(ctx, "users")
	if err != nil {
		return models.User{}, err
	}

	doc := userDoc{ID: id, Username: u.Username, PasswordHash: u.PasswordHash, Role: string(u.Role), CreatedAt: time.Now().UTC()}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, fmt.Errorf("insert user: %w: %v", storage.ErrDuplicate, err)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return doc.model()
}

func (s *Store) findUser(ctx context.Context, filter bson.M, label string) (models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, fmt.Errorf("user %s: %w", label, storage.ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return doc.model()
}

// GetUserByID fetches a single user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, fmt.Sprint(id))
}

// GetUserByUsername fetches a single user by exact username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.findUser(ctx, bson.M{"username": username}, fmt.Sprintf("%q", username))
}

// AdminExists reports whether at least one admin account exists.
func (s *Store) AdminExists(ctx context.Context) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"role": string(models.RoleAdmin)}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("admin exists: %w", err)
	}
	return n > 0, nil
}

// ListNonAdminUsers returns every account whose role is not Admin.
func (s *Store) ListNonAdminUsers(ctx context.Context) ([]models.User, error) {
	cursor, err := s.users.Find(ctx, bson.M{"role": bson.M{"$ne": string(models.RoleAdmin)}}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		u, err := d.model()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// DeleteUser removes a user after deleting the tasks assigned to them, and,
// when withCreated is set, the tasks they created. Remaining references abort
// the transaction with storage.ErrConstraint.
func (s *Store) DeleteUser(ctx context.Context, id int64, withCreated bool) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.tasks.DeleteMany(sc, bson.M{"assigned_to_id": id}); err != nil {
			return nil, fmt.Errorf("delete assigned tasks: %w", err)
		}
		if withCreated {
			if _, err := s.tasks.DeleteMany(sc, bson.M{"created_by_id": id}); err != nil {
				return nil, fmt.Errorf("delete created tasks: %w", err)
			}
		}

		refs, err := s.tasks.CountDocuments(sc, bson.M{"$or": bson.A{
			bson.M{"created_by_id": id},
			bson.M{"assigned_to_id": id},
		}})
		if err != nil {
			return nil, fmt.Errorf("count references: %w", err)
		}
		if refs > 0 {
			return nil, fmt.Errorf("delete user: %w: %d tasks still reference user %d", storage.ErrConstraint, refs, id)
		}

		res, err := s.users.DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return nil, fmt.Errorf("delete user: %w", err)
		}
		if res.DeletedCount == 0 {
			return nil, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
		}
		return nil, nil
	})
	return err
}

// CreateTask inserts a new task and returns it with relations expanded.
func (s *Store) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return models.Task{}, fmt.Errorf("task title must not be empty")
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	if err := s.requireUsers(ctx, t.CreatedByID, t.AssignedToID); err != nil {
		return models.Task{}, err
	}

	id, err := s.nextID(ctx, "tasks")
	if err != nil {
		return models.Task{}, err
	}
	now := time.Now().UTC()
	doc := taskDoc{
		ID:           id,
		Title:        strings.TrimSpace(t.Title),
		Description:  strings.TrimSpace(t.Description),
		DueDate:      t.DueDate.UTC(),
		Priority:     t.Priority,
		Status:       string(t.Status),
		CreatedByID:  t.CreatedByID,
		AssignedToID: t.AssignedToID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.tasks.InsertOne(ctx, doc); err != nil {
		return models.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// requireUsers emulates the foreign keys on tasks.
func (s *Store) requireUsers(ctx context.Context, creatorID int64, assigneeID *int64) error {
	ids := []int64{creatorID}
	if assigneeID != nil && *assigneeID != creatorID {
		ids = append(ids, *assigneeID)
	}
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("check task users: %w", err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("insert task: %w: unknown user reference", storage.ErrConstraint)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	var doc taskDoc
	err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Task{}, fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	tasks, err := s.expand(ctx, []taskDoc{doc})
	if err != nil {
		return models.Task{}, err
	}
	return tasks[0], nil
}

func (s *Store) updateTask(ctx context.Context, id int64, set bson.M, op string) error {
	set["updated_at"] = time.Now().UTC()
	res, err := s.tasks.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// UpdateTaskStatus overwrites the status of a task.
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status models.TaskStatus) error {
	return s.updateTask(ctx, id, bson.M{"status": string(status)}, "update task status")
}

// UpdateTaskAssignee points a task at a different user.
func (s *Store) UpdateTaskAssignee(ctx context.Context, id, assigneeID int64) error {
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": assigneeID})
	if err != nil {
		return fmt.Errorf("check assignee: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update task assignee: %w: unknown user %d", storage.ErrConstraint, assigneeID)
	}
	return s.updateTask(ctx, id, bson.M{"assigned_to_id": assigneeID}, "update task assignee")
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ListTasks returns tasks matching filter ordered by id.
func (s *Store) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	cursor, err := s.tasks.Find(ctx, taskFilter(filter), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var docs []taskDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return s.expand(ctx, docs)
}

// CountTasksByStatus groups the tasks matching filter by status.
func (s *Store) CountTasksByStatus(ctx context.Context, filter models.TaskFilter) ([]models.StatusCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: taskFilter(filter)}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$status"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cursor, err := s.tasks.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}

	counts := make([]models.StatusCount, 0, len(rows))
	for _, r := range rows {
		counts = append(counts, models.StatusCount{Status: models.TaskStatus(r.Status), Count: r.Count})
	}
	return counts, nil
}

// RevokeToken records a token id as no longer valid. The TTL index drops the
// entry once expiresAt has passed.
func (s *Store) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.revoked.UpdateOne(ctx,
		bson.M{"_id": jti},
		bson.M{"$setOnInsert": bson.M{"expires_at": expiresAt.UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether jti was revoked.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.revoked.CountDocuments(ctx, bson.M{"_id": jti}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// expand resolves creator and assignee references with one users query.
func (s *Store) expand(ctx context.Context, docs []taskDoc) ([]models.Task, error) {
	tasks := make([]models.Task, 0, len(docs))
	if len(docs) == 0 {
		return tasks, nil
	}

	seen := map[int64]struct{}{}
	ids := bson.A{}
	for _, d := range docs {
		for _, id := range []*int64{&d.CreatedByID, d.AssignedToID} {
			if id == nil {
				continue
			}
			if _, ok := seen[*id]; !ok {
				seen[*id] = struct{}{}
				ids = append(ids, *id)
			}
		}
	}

	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("load task users: %w", err)
	}
	var users []userDoc
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode task users: %w", err)
	}
	refs := make(map[int64]models.UserRef, len(users))
	for _, u := range users {
		refs[u.ID] = models.UserRef{ID: u.ID, Username: u.Username, Role: models.Role(u.Role)}
	}

	for _, d := range docs {
		t := models.Task{
			ID:           d.ID,
			Title:        d.Title,
			Description:  d.Description,
			DueDate:      d.DueDate,
			Priority:     d.Priority,
			Status:       models.TaskStatus(d.Status),
			CreatedByID:  d.CreatedByID,
			AssignedToID: d.AssignedToID,
			CreatedAt:    d.CreatedAt,
			UpdatedAt:    d.UpdatedAt,
		}
		if ref, ok := refs[d.CreatedByID]; ok {
			t.CreatedBy = &ref
		}
		if d.AssignedToID != nil {
			if ref, ok := refs[*d.AssignedToID]; ok {
				t.AssignedTo = &ref
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// taskFilter translates a TaskFilter into a query document.
func taskFilter(f models.TaskFilter) bson.M {
	q := bson.M{}
	if f.AssignedToID != nil {
		q["assigned_to_id"] = *f.AssignedToID
	}
	if f.CreatedByID != nil {
		q["created_by_id"] = *f.CreatedByID
	}
	if f.TitleContains != "" {
		q["title"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.TitleContains)}
	}
	if f.Status != nil {
		q["status"] = string(*f.Status)
	}
	return q
}
