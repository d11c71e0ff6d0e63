package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openpaas/chat-service/internal/model"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			return NewMemoryStore(), nil
		},
	})
}

const defaultChannelName = "general"

type convRecord struct {
	conv model.Conversation
	seq  int64
}

type msgRecord struct {
	msg model.Message
	seq int64
}

// MemoryStore implements ChatStore with in-process maps. It mirrors the
// MongoDB plugin's semantics, including monotonic read counters and the
// flattened attachment window, and is the backend of choice for tests.
type MemoryStore struct {
	mu            sync.Mutex
	seq           int64
	conversations map[string]*convRecord
	messages      map[string]*msgRecord
	members       map[string]model.Member
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*convRecord{},
		messages:      map[string]*msgRecord{},
		members:       map[string]model.Member{},
	}
}

// PutMember seeds the member directory. Test helper; the MongoDB plugin's
// directory is provisioned out of band.
func (s *MemoryStore) PutMember(m model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ObjectType == "" {
		m.ObjectType = model.ObjectTypeUser
	}
	s.members[m.ID] = m
}

func (s *MemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

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

func memberSetKey(refs []model.MemberRef) string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ObjectType + "/" + r.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func cloneConversation(c model.Conversation) *model.Conversation {
	out := c
	out.Members = append([]model.MemberRef(nil), c.Members...)
	out.NumOfReadedMessage = make(map[string]int64, len(c.NumOfReadedMessage))
	for k, v := range c.NumOfReadedMessage {
		out.NumOfReadedMessage[k] = v
	}
	if c.Name != nil {
		name := *c.Name
		out.Name = &name
	}
	if c.Topic != nil {
		t := *c.Topic
		out.Topic = &t
	}
	if c.Purpose != nil {
		p := *c.Purpose
		out.Purpose = &p
	}
	if c.Collaboration != nil {
		col := *c.Collaboration
		out.Collaboration = &col
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func cloneMessage(m model.Message) *model.Message {
	out := m
	out.Attachments = append([]model.Attachment(nil), m.Attachments...)
	out.UserMentions = append([]string(nil), m.UserMentions...)
	return &out
}

// --- Conversations ---

func (s *MemoryStore) CreateConversation(ctx context.Context, req registrystore.CreateConversationRequest) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := normalizeMembers(req.Members)

	if req.Type == model.ConversationTypeConfidential || req.Mode == model.ModePrivate {
		key := memberSetKey(members)
		for _, rec := range s.conversations {
			c := rec.conv
			if c.Type != req.Type {
				continue
			}
			if memberSetKey(c.Members) != key {
				continue
			}
			if (c.Name == nil) != (req.Name == nil) {
				continue
			}
			if c.Name != nil && *c.Name != *req.Name {
				continue
			}
			return cloneConversation(c), false, nil
		}
	}

	conv := model.Conversation{
		ID:                 uuid.NewString(),
		Type:               req.Type,
		Mode:               req.Mode,
		Name:               req.Name,
		Domain:             req.Domain,
		Creator:            req.Creator,
		Topic:              req.Topic,
		Purpose:            req.Purpose,
		Members:            members,
		Collaboration:      req.Collaboration,
		NumOfReadedMessage: map[string]int64{},
		CreatedAt:          time.Now(),
	}
	s.conversations[conv.ID] = &convRecord{conv: conv, seq: s.nextSeq()}
	return cloneConversation(conv), true, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id}
	}
	return cloneConversation(rec.conv), nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, q registrystore.ConversationQuery) ([]model.Conversation, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*convRecord
	for _, rec := range s.conversations {
		c := rec.conv
		if c.Moderate && !q.IncludeModerated {
			continue
		}
		if len(q.Types) > 0 {
			found := false
			for _, t := range q.Types {
				if c.Type == t {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if q.Mode != "" && c.Mode != q.Mode {
			continue
		}
		if q.Member != nil && !c.HasMember(q.Member.ID) {
			continue
		}
		matched = append(matched, rec)
	}

	byActivity := q.Member != nil
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if byActivity {
			ad, bd := time.Time{}, time.Time{}
			if a.conv.LastMessage != nil {
				ad = a.conv.LastMessage.Date
			}
			if b.conv.LastMessage != nil {
				bd = b.conv.LastMessage.Date
			}
			if !ad.Equal(bd) {
				return ad.After(bd)
			}
		}
		if !a.conv.CreatedAt.Equal(b.conv.CreatedAt) {
			return a.conv.CreatedAt.After(b.conv.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := int64(len(matched))
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}

	items := make([]model.Conversation, len(matched))
	for i, rec := range matched {
		items[i] = *cloneConversation(rec.conv)
	}
	return items, total, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, patch registrystore.ConversationPatch) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id}
	}
	if patch.Name != nil {
		name := *patch.Name
		rec.conv.Name = &name
	}
	if patch.Topic != nil {
		t := *patch.Topic
		rec.conv.Topic = &t
	}
	if patch.Purpose != nil {
		p := *patch.Purpose
		rec.conv.Purpose = &p
	}
	return cloneConversation(rec.conv), nil
}

func (s *MemoryStore) RemoveConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return &registrystore.NotFoundError{Resource: "conversation", ID: id}
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, memberID, conversationID string) error {
	return s.MarkAllRead(ctx, []string{memberID}, conversationID)
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, memberIDs []string, conversationID string) error {
	if len(memberIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return &registrystore.NotFoundError{Resource: "conversation", ID: conversationID}
	}
	for _, id := range memberIDs {
		if rec.conv.NumOfMessage > rec.conv.NumOfReadedMessage[id] {
			rec.conv.NumOfReadedMessage[id] = rec.conv.NumOfMessage
		}
	}
	return nil
}

func (s *MemoryStore) GetConversationByCollaboration(ctx context.Context, collaboration model.Tuple) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findByCollaboration(collaboration)
	if rec == nil {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: collaboration.ID}
	}
	return cloneConversation(rec.conv), nil
}

func (s *MemoryStore) findByCollaboration(collaboration model.Tuple) *convRecord {
	for _, rec := range s.conversations {
		c := rec.conv
		if c.Type != model.ConversationTypeCollaboration || c.Collaboration == nil {
			continue
		}
		if c.Collaboration.ObjectType == collaboration.ObjectType && c.Collaboration.ID == collaboration.ID {
			return rec
		}
	}
	return nil
}

func (s *MemoryStore) UpdateCollaborationConversation(ctx context.Context, collaboration model.Tuple, mods registrystore.CollaborationUpdate) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findByCollaboration(collaboration)
	if rec == nil {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: collaboration.ID}
	}
	for _, m := range normalizeMembers(mods.NewMembers) {
		if !rec.conv.HasMember(m.ID) {
			rec.conv.Members = append(rec.conv.Members, m)
		}
	}
	if len(mods.DeleteMembers) > 0 {
		gone := make(map[string]bool, len(mods.DeleteMembers))
		for _, m := range mods.DeleteMembers {
			gone[m.ID] = true
		}
		kept := rec.conv.Members[:0]
		for _, m := range rec.conv.Members {
			if !gone[m.ID] {
				kept = append(kept, m)
			}
		}
		rec.conv.Members = kept
	}
	if mods.Title != nil {
		name := *mods.Title
		rec.conv.Name = &name
	}
	return cloneConversation(rec.conv), nil
}

func (s *MemoryStore) CreateDefaultChannel(ctx context.Context, domainID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.conversations {
		c := rec.conv
		if c.Domain == domainID && c.Type == model.ConversationTypeOpen &&
			c.Mode == model.ModeChannel && c.Name != nil && *c.Name == defaultChannelName {
			return cloneConversation(c), nil
		}
	}
	name := defaultChannelName
	conv := model.Conversation{
		ID:                 uuid.NewString(),
		Type:               model.ConversationTypeOpen,
		Mode:               model.ModeChannel,
		Name:               &name,
		Domain:             domainID,
		Members:            []model.MemberRef{},
		NumOfReadedMessage: map[string]int64{},
		CreatedAt:          time.Now(),
	}
	s.conversations[conv.ID] = &convRecord{conv: conv, seq: s.nextSeq()}
	return cloneConversation(conv), nil
}

// --- Messages ---

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[msg.Channel]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: msg.Channel}
	}

	stored := *cloneMessage(*msg)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.messages[stored.ID] = &msgRecord{msg: stored, seq: s.nextSeq()}

	rec.conv.NumOfMessage++
	rec.conv.LastMessage = &model.LastMessage{
		Text:         stored.Text,
		Creator:      stored.Creator,
		UserMentions: stored.UserMentions,
		Date:         stored.CreatedAt,
	}
	if stored.Creator != "" && rec.conv.NumOfMessage > rec.conv.NumOfReadedMessage[stored.Creator] {
		rec.conv.NumOfReadedMessage[stored.Creator] = rec.conv.NumOfMessage
	}

	return cloneMessage(stored), nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.messages[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: id}
	}
	return cloneMessage(rec.msg), nil
}

// sortedConversationMessages returns the conversation's unmoderated messages
// ordered oldest first. Callers must hold s.mu.
func (s *MemoryStore) sortedConversationMessages(conversationID string) []*msgRecord {
	var recs []*msgRecord
	for _, rec := range s.messages {
		if rec.msg.Channel != conversationID || rec.msg.Moderate {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].msg.CreatedAt.Equal(recs[j].msg.CreatedAt) {
			return recs[i].msg.CreatedAt.Before(recs[j].msg.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	return recs
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, q registrystore.MessageQuery) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.Before != "" {
		if _, ok := s.messages[q.Before]; !ok {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: q.Before}
		}
	}

	recs := s.sortedConversationMessages(conversationID)

	if q.Before != "" {
		before := s.messages[q.Before]
		cut := len(recs)
		for i, rec := range recs {
			if !rec.msg.CreatedAt.Before(before.msg.CreatedAt) {
				cut = i
				break
			}
		}
		recs = recs[:cut]
	}

	// Window selection walks newest-first, then the page flips back to
	// ascending order.
	end := len(recs) - q.Offset
	if end < 0 {
		end = 0
	}
	start := 0
	if q.Limit > 0 && end-q.Limit > 0 {
		start = end - q.Limit
	}
	page := recs[start:end]

	msgs := make([]model.Message, len(page))
	for i, rec := range page {
		msgs[i] = *cloneMessage(rec.msg)
	}
	return msgs, nil
}

func (s *MemoryStore) ListAttachments(ctx context.Context, conversationID string, limit, offset int) ([]registrystore.AttachmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= offset {
		return []registrystore.AttachmentRecord{}, nil
	}

	var flat []registrystore.AttachmentRecord
	for _, rec := range s.sortedConversationMessages(conversationID) {
		for _, a := range rec.msg.Attachments {
			flat = append(flat, registrystore.AttachmentRecord{
				ID:           a.ID,
				MessageID:    rec.msg.ID,
				Creator:      model.MemberRef{ID: rec.msg.Creator, ObjectType: model.ObjectTypeUser},
				CreationDate: rec.msg.CreatedAt,
				Name:         a.Name,
				ContentType:  a.ContentType,
				Length:       a.Length,
			})
		}
	}

	// limit is the absolute end index into the flattened sequence.
	if limit < len(flat) {
		flat = flat[:limit]
	}
	if offset >= len(flat) {
		return []registrystore.AttachmentRecord{}, nil
	}
	return flat[offset:], nil
}

// --- Members directory ---

func (s *MemoryStore) GetMembers(ctx context.Context, ids []string) ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.members[id]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, model.Member{ID: id, ObjectType: model.ObjectTypeUser})
	}
	return out, nil
}
