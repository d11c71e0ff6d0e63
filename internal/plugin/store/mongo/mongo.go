package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openpaas/chat-service/internal/config"
	"github.com/openpaas/chat-service/internal/model"
	registrymigrate "github.com/openpaas/chat-service/internal/registry/migrate"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const dbName = "chat_service"

// DefaultChannelName is the name of the per-domain bootstrap channel.
const DefaultChannelName = "general"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &MongoStore{
				client: client,
				db:     client.Database(dbName),
			}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }

func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(dbName)

	collections := map[string][]mongo.IndexModel{
		"conversations": {
			{Keys: bson.D{{Key: "type", Value: 1}}},
			{Keys: bson.D{{Key: "members.id", Value: 1}}},
			{Keys: bson.D{{Key: "collaboration.object_type", Value: 1}, {Key: "collaboration.id", Value: 1}}},
			{Keys: bson.D{{Key: "domain", Value: 1}, {Key: "name", Value: 1}}},
			{Keys: bson.D{{Key: "last_message.date", Value: -1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "channel", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "channel", Value: 1}, {Key: "moderate", Value: 1}}},
		},
		"members": {
			{Keys: bson.D{{Key: "object_type", Value: 1}}},
		},
	}

	for name, indexes := range collections {
		db.CreateCollection(ctx, name)
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

// MongoStore implements ChatStore using MongoDB. Every conversation mutation
// is a single-document update built from atomic operators ($inc, $max, $set,
// $addToSet, $pullAll); there is no in-process locking.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// --- MongoDB document types ---

type convDoc struct {
	ID                 string             `bson:"_id"`
	Type               string             `bson:"type"`
	Mode               string             `bson:"mode"`
	Name               *string            `bson:"name,omitempty"`
	Domain             string             `bson:"domain,omitempty"`
	Creator            string             `bson:"creator,omitempty"`
	Topic              *model.TopicField  `bson:"topic,omitempty"`
	Purpose            *model.TopicField  `bson:"purpose,omitempty"`
	Members            []model.MemberRef  `bson:"members"`
	Collaboration      *model.Tuple       `bson:"collaboration,omitempty"`
	NumOfMessage       int64              `bson:"num_of_message"`
	NumOfReadedMessage map[string]int64   `bson:"num_of_readed_message"`
	LastMessage        *model.LastMessage `bson:"last_message,omitempty"`
	Moderate           bool               `bson:"moderate"`
	CreatedAt          time.Time          `bson:"created_at"`
}

func (d *convDoc) toModel() *model.Conversation {
	readed := d.NumOfReadedMessage
	if readed == nil {
		readed = map[string]int64{}
	}
	return &model.Conversation{
		ID:                 d.ID,
		Type:               model.ConversationType(d.Type),
		Mode:               model.ConversationMode(d.Mode),
		Name:               d.Name,
		Domain:             d.Domain,
		Creator:            d.Creator,
		Topic:              d.Topic,
		Purpose:            d.Purpose,
		Members:            d.Members,
		Collaboration:      d.Collaboration,
		NumOfMessage:       d.NumOfMessage,
		NumOfReadedMessage: readed,
		LastMessage:        d.LastMessage,
		Moderate:           d.Moderate,
		CreatedAt:          d.CreatedAt,
	}
}

type messageDoc struct {
	ID           string             `bson:"_id"`
	Channel      string             `bson:"channel"`
	Creator      string             `bson:"creator"`
	Type         string             `bson:"type"`
	Subtype      string             `bson:"subtype,omitempty"`
	Text         string             `bson:"text"`
	Attachments  []model.Attachment `bson:"attachments,omitempty"`
	UserMentions []string           `bson:"user_mentions,omitempty"`
	Moderate     bool               `bson:"moderate"`
	CreatedAt    time.Time          `bson:"created_at"`
}

func (d *messageDoc) toModel() *model.Message {
	return &model.Message{
		ID:           d.ID,
		Channel:      d.Channel,
		Creator:      d.Creator,
		Type:         d.Type,
		Subtype:      d.Subtype,
		Text:         d.Text,
		Attachments:  d.Attachments,
		UserMentions: d.UserMentions,
		Moderate:     d.Moderate,
		CreatedAt:    d.CreatedAt,
	}
}

// --- Collection accessors ---

func (s *MongoStore) conversations() *mongo.Collection { return s.db.Collection("conversations") }
func (s *MongoStore) messages() *mongo.Collection      { return s.db.Collection("messages") }
func (s *MongoStore) members() *mongo.Collection       { return s.db.Collection("members") }

// normalizeMembers drops duplicate member references, preserving first-seen order.
func normalizeMembers(refs []model.MemberRef) []model.MemberRef {
	seen := make(map[string]bool, len(refs))
	out := make([]model.MemberRef, 0, len(refs))
	for _, r := range refs {
		if r.ObjectType == "" {
			r.ObjectType = model.ObjectTypeUser
		}
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

func collaborationFilter(c model.Tuple) bson.M {
	return bson.M{
		"type":                      string(model.ConversationTypeCollaboration),
		"collaboration.object_type": c.ObjectType,
		"collaboration.id":          c.ID,
	}
}

// --- Conversations ---

func (s *MongoStore) CreateConversation(ctx context.Context, req registrystore.CreateConversationRequest) (*model.Conversation, bool, error) {
	members := normalizeMembers(req.Members)

	// Confidential conversations (and private rooms) are deduplicated on
	// (type, member-set, name-or-absence). Member-set equality ignores order;
	// an absent name is its own class, distinct from "" or any other string.
	if req.Type == model.ConversationTypeConfidential || req.Mode == model.ModePrivate {
		filter := bson.M{
			"type":    string(req.Type),
			"members": bson.M{"$size": len(members)},
		}
		if len(members) > 0 {
			all := make(bson.A, len(members))
			for i, m := range members {
				all[i] = bson.M{"$elemMatch": bson.M{"id": m.ID, "object_type": m.ObjectType}}
			}
			filter["members"] = bson.M{"$all": all, "$size": len(members)}
		}
		if req.Name == nil {
			filter["name"] = bson.M{"$exists": false}
		} else {
			filter["name"] = *req.Name
		}

		var existing convDoc
		err := s.conversations().FindOne(ctx, filter).Decode(&existing)
		if err == nil {
			return existing.toModel(), false, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, fmt.Errorf("failed to search for duplicate conversation: %w", err)
		}
	}

	doc := convDoc{
		ID:                 uuid.NewString(),
		Type:               string(req.Type),
		Mode:               string(req.Mode),
		Name:               req.Name,
		Domain:             req.Domain,
		Creator:            req.Creator,
		Topic:              req.Topic,
		Purpose:            req.Purpose,
		Members:            members,
		Collaboration:      req.Collaboration,
		NumOfMessage:       0,
		NumOfReadedMessage: map[string]int64{},
		CreatedAt:          time.Now(),
	}
	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return doc.toModel(), true, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var doc convDoc
	err := s.conversations().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) ListConversations(ctx context.Context, q registrystore.ConversationQuery) ([]model.Conversation, int64, error) {
	filter := bson.M{}
	if !q.IncludeModerated {
		filter["moderate"] = bson.M{"$ne": true}
	}
	if len(q.Types) > 0 {
		types := make(bson.A, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		filter["type"] = bson.M{"$in": types}
	}
	if q.Mode != "" {
		filter["mode"] = string(q.Mode)
	}
	if q.Member != nil {
		filter["members.id"] = q.Member.ID
	}

	total, err := s.conversations().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	// "My conversations" sort by latest activity; missing last_message sorts
	// after present values in a descending sort, so the creation-time key
	// decides for conversations that never had a message.
	sortKeys := bson.D{{Key: "created_at", Value: -1}}
	if q.Member != nil {
		sortKeys = bson.D{{Key: "last_message.date", Value: -1}, {Key: "created_at", Value: -1}}
	}

	opts := options.Find().SetSort(sortKeys)
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.conversations().Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	var docs []convDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode conversations: %w", err)
	}

	items := make([]model.Conversation, len(docs))
	for i := range docs {
		items[i] = *docs[i].toModel()
	}
	return items, total, nil
}

func (s *MongoStore) UpdateConversation(ctx context.Context, id string, patch registrystore.ConversationPatch) (*model.Conversation, error) {
	set := bson.M{}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Topic != nil {
		set["topic"] = patch.Topic
	}
	if patch.Purpose != nil {
		set["purpose"] = patch.Purpose
	}
	if len(set) == 0 {
		return s.GetConversation(ctx, id)
	}

	var doc convDoc
	err := s.conversations().FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) RemoveConversation(ctx context.Context, id string) error {
	res, err := s.conversations().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to remove conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "conversation", ID: id}
	}
	return nil
}

func (s *MongoStore) MarkRead(ctx context.Context, memberID, conversationID string) error {
	return s.MarkAllRead(ctx, []string{memberID}, conversationID)
}

func (s *MongoStore) MarkAllRead(ctx context.Context, memberIDs []string, conversationID string) error {
	if len(memberIDs) == 0 {
		return nil
	}
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	// $max never lowers a counter, so a stale read of num_of_message cannot
	// regress a member that raced ahead.
	max := bson.M{}
	for _, id := range memberIDs {
		max["num_of_readed_message."+id] = conv.NumOfMessage
	}
	_, err = s.conversations().UpdateOne(ctx, bson.M{"_id": conversationID}, bson.M{"$max": max})
	if err != nil {
		return fmt.Errorf("failed to mark conversation %s as read: %w", conversationID, err)
	}
	return nil
}

func (s *MongoStore) GetConversationByCollaboration(ctx context.Context, collaboration model.Tuple) (*model.Conversation, error) {
	var doc convDoc
	err := s.conversations().FindOne(ctx, collaborationFilter(collaboration)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: collaboration.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation by collaboration: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) UpdateCollaborationConversation(ctx context.Context, collaboration model.Tuple, mods registrystore.CollaborationUpdate) (*model.Conversation, error) {
	update := bson.M{}
	if len(mods.NewMembers) > 0 {
		each := make(bson.A, 0, len(mods.NewMembers))
		for _, m := range normalizeMembers(mods.NewMembers) {
			each = append(each, m)
		}
		update["$addToSet"] = bson.M{"members": bson.M{"$each": each}}
	}
	if len(mods.DeleteMembers) > 0 {
		all := make(bson.A, len(mods.DeleteMembers))
		for i, m := range mods.DeleteMembers {
			all[i] = m
		}
		update["$pullAll"] = bson.M{"members": all}
	}
	if mods.Title != nil {
		update["$set"] = bson.M{"name": *mods.Title}
	}
	if len(update) == 0 {
		return s.GetConversationByCollaboration(ctx, collaboration)
	}

	var doc convDoc
	err := s.conversations().FindOneAndUpdate(ctx,
		collaborationFilter(collaboration),
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: collaboration.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update collaboration conversation: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) CreateDefaultChannel(ctx context.Context, domainID string) (*model.Conversation, error) {
	name := DefaultChannelName
	filter := bson.M{
		"domain": domainID,
		"type":   string(model.ConversationTypeOpen),
		"mode":   string(model.ModeChannel),
		"name":   name,
	}
	// Upsert keeps concurrent bootstraps from double-creating: whichever
	// insert lands first wins and the others observe it.
	insert := bson.M{"$setOnInsert": convDoc{
		ID:                 uuid.NewString(),
		Type:               string(model.ConversationTypeOpen),
		Mode:               string(model.ModeChannel),
		Name:               &name,
		Domain:             domainID,
		Members:            []model.MemberRef{},
		NumOfMessage:       0,
		NumOfReadedMessage: map[string]int64{},
		CreatedAt:          time.Now(),
	}}

	var doc convDoc
	err := s.conversations().FindOneAndUpdate(ctx, filter, insert,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create default channel for domain %s: %w", domainID, err)
	}
	return doc.toModel(), nil
}

// --- Messages ---

func (s *MongoStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	count, err := s.conversations().CountDocuments(ctx, bson.M{"_id": msg.Channel})
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation for message: %w", err)
	}
	if count == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: msg.Channel}
	}

	doc := messageDoc{
		ID:           uuid.NewString(),
		Channel:      msg.Channel,
		Creator:      msg.Creator,
		Type:         msg.Type,
		Subtype:      msg.Subtype,
		Text:         msg.Text,
		Attachments:  msg.Attachments,
		UserMentions: msg.UserMentions,
		Moderate:     msg.Moderate,
		CreatedAt:    time.Now(),
	}
	if msg.ID != "" {
		doc.ID = msg.ID
	}
	if !msg.CreatedAt.IsZero() {
		doc.CreatedAt = msg.CreatedAt
	}

	if _, err := s.messages().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	// One atomic step on the conversation document: bump the counter and
	// overwrite the last-message snapshot. The creator's read counter is then
	// max-merged to the post-increment count, so concurrent messages from the
	// same author can only raise it.
	var updated convDoc
	err = s.conversations().FindOneAndUpdate(ctx,
		bson.M{"_id": msg.Channel},
		bson.M{
			"$inc": bson.M{"num_of_message": 1},
			"$set": bson.M{"last_message": model.LastMessage{
				Text:         doc.Text,
				Creator:      doc.Creator,
				UserMentions: doc.UserMentions,
				Date:         doc.CreatedAt,
			}},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: msg.Channel}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation for message: %w", err)
	}

	if doc.Creator != "" {
		_, err = s.conversations().UpdateOne(ctx,
			bson.M{"_id": msg.Channel},
			bson.M{"$max": bson.M{"num_of_readed_message." + doc.Creator: updated.NumOfMessage}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark message as read for creator: %w", err)
		}
	}

	return doc.toModel(), nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var doc messageDoc
	err := s.messages().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, q registrystore.MessageQuery) ([]model.Message, error) {
	filter := bson.M{
		"channel":  conversationID,
		"moderate": bson.M{"$ne": true},
	}
	if q.Before != "" {
		before, err := s.GetMessage(ctx, q.Before)
		if err != nil {
			return nil, err
		}
		filter["created_at"] = bson.M{"$lt": before.CreatedAt}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	// The query walks newest-first; the page is returned oldest-first.
	msgs := make([]model.Message, len(docs))
	for i := range docs {
		msgs[len(docs)-1-i] = *docs[i].toModel()
	}
	return msgs, nil
}

type attachmentRow struct {
	MessageID    string           `bson:"message_id"`
	Creator      string           `bson:"creator"`
	CreationDate time.Time        `bson:"creation_date"`
	Attachment   model.Attachment `bson:"attachment"`
}

func (s *MongoStore) ListAttachments(ctx context.Context, conversationID string, limit, offset int) ([]registrystore.AttachmentRecord, error) {
	// limit is the absolute end index into the flattened sequence: the
	// pipeline caps the unwound stream at limit elements and then skips
	// offset, yielding indices [offset, limit).
	if limit <= offset {
		return []registrystore.AttachmentRecord{}, nil
	}
	pipeline := bson.A{
		bson.M{"$match": bson.M{
			"channel":       conversationID,
			"moderate":      bson.M{"$ne": true},
			"attachments.0": bson.M{"$exists": true},
		}},
		bson.M{"$sort": bson.D{{Key: "created_at", Value: 1}}},
		bson.M{"$unwind": "$attachments"},
		bson.M{"$limit": int64(limit)},
		bson.M{"$skip": int64(offset)},
		bson.M{"$project": bson.M{
			"_id":           0,
			"message_id":    "$_id",
			"creator":       "$creator",
			"creation_date": "$created_at",
			"attachment":    "$attachments",
		}},
	}
	cur, err := s.messages().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate attachments: %w", err)
	}
	var rows []attachmentRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}

	records := make([]registrystore.AttachmentRecord, len(rows))
	for i, r := range rows {
		records[i] = registrystore.AttachmentRecord{
			ID:           r.Attachment.ID,
			MessageID:    r.MessageID,
			Creator:      model.MemberRef{ID: r.Creator, ObjectType: model.ObjectTypeUser},
			CreationDate: r.CreationDate,
			Name:         r.Attachment.Name,
			ContentType:  r.Attachment.ContentType,
			Length:       r.Attachment.Length,
		}
	}
	return records, nil
}

// --- Members directory ---

func (s *MongoStore) GetMembers(ctx context.Context, ids []string) ([]model.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.members().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve members: %w", err)
	}
	var found []model.Member
	if err := cur.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}

	byID := make(map[string]model.Member, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	out := make([]model.Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, model.Member{ID: id, ObjectType: model.ObjectTypeUser})
	}
	return out, nil
}
