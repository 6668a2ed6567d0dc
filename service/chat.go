package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	uuid "github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"deepchat/model"
	"deepchat/platform"
)

// ChatService owns conversation documents and runs the append
// protocol for user turns. All operations are scoped to the resolved
// owner; a conversation that exists but belongs to someone else is
// indistinguishable from one that does not exist.
type ChatService struct {
	db        *gorm.DB
	generator platform.Generator
	logger    *logrus.Logger
	promptMin int
}

func NewChatService(db *gorm.DB, generator platform.Generator, logger *logrus.Logger, promptMin int) *ChatService {
	if promptMin < 1 {
		promptMin = 1
	}
	return &ChatService{
		db:        db,
		generator: generator,
		logger:    logger,
		promptMin: promptMin,
	}
}

func (s *ChatService) Create(ownerID uint, name string) (*model.Conversation, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = model.DefaultConversationName
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	conv := model.Conversation{
		UserID:   ownerID,
		Name:     name,
		Messages: []model.Message{},
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, model.WrapE(model.KindPersistenceFailed, "failed to create conversation", err)
	}
	return &conv, nil
}

func (s *ChatService) List(ownerID uint) ([]model.Conversation, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	var convs []model.Conversation
	err := s.db.Preload("Messages", messageOrder).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, model.WrapE(model.KindPersistenceFailed, "failed to list conversations", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	for i := range convs {
		if convs[i].Messages == nil {
			convs[i].Messages = []model.Message{}
		}
	}
	return convs, nil
}

func (s *ChatService) Get(ownerID uint, conversationID string) (*model.Conversation, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := validateID(conversationID); err != nil {
		return nil, err
	}

	var conv model.Conversation
	err := s.db.Preload("Messages", messageOrder).
		Where("id = ? AND user_id = ?", conversationID, ownerID).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.E(model.KindNotFound, "conversation not found")
		}
		return nil, model.WrapE(model.KindPersistenceFailed, "failed to load conversation", err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return &conv, nil
}

func (s *ChatService) Rename(ownerID uint, conversationID, newName string) (*model.Conversation, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	newName = strings.TrimSpace(newName)
	if err := validateName(newName); err != nil {
		return nil, err
	}

	res := s.db.Model(&model.Conversation{}).
		Where("id = ? AND user_id = ?", conversationID, ownerID).
		Update("name", newName)
	if res.Error != nil {
		return nil, model.WrapE(model.KindPersistenceFailed, "failed to rename conversation", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, model.E(model.KindNotFound, "conversation not found")
	}
	return s.Get(ownerID, conversationID)
}

// Delete permanently removes the conversation and its messages.
func (s *ChatService) Delete(ownerID uint, conversationID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if err := validateID(conversationID); err != nil {
		return err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", conversationID, ownerID).
			Delete(&model.Conversation{})
		if res.Error != nil {
			return model.WrapE(model.KindPersistenceFailed, "failed to delete conversation", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.E(model.KindNotFound, "conversation not found")
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return model.WrapE(model.KindPersistenceFailed, "failed to delete messages", err)
		}
		return nil
	})
	return err
}

// AppendMessage appends one message to an owned conversation. The
// append is an insert, so concurrent appends compose instead of
// overwriting each other's writes.
func (s *ChatService) AppendMessage(ownerID uint, conversationID string, msg model.Message) (*model.Conversation, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	if !model.ValidRole(msg.Role) {
		return nil, model.Ef(model.KindInvalidInput, "invalid message role %q", msg.Role)
	}
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return nil, model.E(model.KindInvalidInput, "message content must not be empty")
	}

	msg.ConversationID = conversationID
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// the guarded touch re-asserts the owned row inside the
		// transaction, so a concurrent delete aborts the insert
		// instead of leaving orphan message rows
		res := tx.Model(&model.Conversation{}).
			Where("id = ? AND user_id = ?", conversationID, ownerID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.E(model.KindNotFound, "conversation not found")
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return nil, err
		}
		return nil, model.WrapE(model.KindPersistenceFailed, "failed to append message", err)
	}
	return s.Get(ownerID, conversationID)
}

// SendMessage runs one user turn: validate, load, generate, persist
// the user/assistant pair, return the assistant message.
//
// The generation backend receives the full prior history plus the new
// prompt. Nothing is persisted when generation fails; the caller
// resubmits the whole turn. Both turns of a successful generation are
// written in one multi-row insert inside one transaction, so the pair
// is atomic and never interleaves with a concurrent turn's pair.
func (s *ChatService) SendMessage(ctx context.Context, ownerID uint, conversationID, prompt string) (*model.Message, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	prompt = strings.TrimSpace(prompt)
	if utf8.RuneCountInString(prompt) < s.promptMin {
		return nil, model.Ef(model.KindInvalidInput, "prompt must be at least %d characters", s.promptMin)
	}

	conv, err := s.Get(ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	history := make([]platform.Turn, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		history = append(history, platform.Turn{Role: m.Role, Content: m.Content})
	}
	history = append(history, platform.Turn{Role: model.RoleUser, Content: prompt})

	reply, err := s.generator.Complete(ctx, history)
	if err != nil {
		s.logger.Warnf("generation failed for conversation %s: %s", conv.ID, err)
		return nil, model.WrapE(model.KindGenerationFailed, "generation backend call failed", err)
	}
	if strings.TrimSpace(reply) == "" {
		s.logger.Warnf("generation returned empty reply for conversation %s", conv.ID)
		return nil, model.E(model.KindGenerationFailed, "generation backend returned an empty reply")
	}

	now := time.Now()
	pair := []model.Message{
		{ConversationID: conv.ID, Role: model.RoleUser, Content: prompt, CreatedAt: now},
		{ConversationID: conv.ID, Role: model.RoleAssistant, Content: reply, CreatedAt: time.Now()},
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// re-assert the owned row inside the transaction; the
		// conversation may have been deleted while the backend call
		// was in flight
		res := tx.Model(&model.Conversation{}).
			Where("id = ? AND user_id = ?", conv.ID, ownerID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.E(model.KindNotFound, "conversation not found")
		}
		return tx.Create(&pair).Error
	})
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return nil, err
		}
		// the reply was generated but could not be saved; reported
		// distinctly so the caller knows the turn is unsaved
		s.logger.Warnf("failed to persist turn for conversation %s: %s", conv.ID, err)
		return nil, model.WrapE(model.KindPersistenceFailed, "generated reply could not be saved", err)
	}

	assistant := pair[1]
	return &assistant, nil
}

// EnsureSession lists the owner's conversations and seeds the default
// selection: the newest-updated one, or a fresh "New Chat" when none
// exist. Selection itself stays client-local.
func (s *ChatService) EnsureSession(ownerID uint) ([]model.Conversation, string, error) {
	convs, err := s.List(ownerID)
	if err != nil {
		return nil, "", err
	}
	if len(convs) == 0 {
		conv, err := s.Create(ownerID, "")
		if err != nil {
			return nil, "", err
		}
		return []model.Conversation{*conv}, conv.ID, nil
	}
	return convs, convs[0].ID, nil
}

func messageOrder(db *gorm.DB) *gorm.DB {
	return db.Order("messages.id ASC")
}

func requireOwner(ownerID uint) error {
	if ownerID == 0 {
		return model.E(model.KindUnauthenticated, "caller identity could not be resolved")
	}
	return nil
}

func validateID(conversationID string) error {
	if _, err := uuid.Parse(conversationID); err != nil {
		return model.E(model.KindInvalidIdentifier, "malformed conversation id")
	}
	return nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < model.NameMinLen || n > model.NameMaxLen {
		return model.Ef(model.KindInvalidInput, "conversation name must be %d-%d characters", model.NameMinLen, model.NameMaxLen)
	}
	return nil
}
