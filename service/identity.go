package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"deepchat/model"
)

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// IdentitySubject carries the provider's view of the account.
type IdentitySubject struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ImageURL  string `json:"image_url"`
}

// IdentityEvent is one lifecycle event delivered to the webhook.
type IdentityEvent struct {
	Type string          `json:"type"`
	Data IdentitySubject `json:"data"`
}

// IdentitySyncService reconciles identity-provider lifecycle events
// into local User rows. Delivery is at-least-once, so every handler
// is written to be replay-safe.
type IdentitySyncService struct {
	db        *gorm.DB
	secret    []byte
	tolerance time.Duration
	logger    *logrus.Logger
}

func NewIdentitySyncService(db *gorm.DB, signingSecret string, tolerance time.Duration, logger *logrus.Logger) (*IdentitySyncService, error) {
	secret, err := decodeSigningSecret(signingSecret)
	if err != nil {
		return nil, err
	}
	return &IdentitySyncService{
		db:        db,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger,
	}, nil
}

// decodeSigningSecret accepts the provider's whsec_-prefixed base64
// key form.
func decodeSigningSecret(secret string) ([]byte, error) {
	trimmed := strings.TrimPrefix(secret, "whsec_")
	if trimmed == "" {
		return nil, errors.New("webhook signing secret is not configured")
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("webhook signing secret is not valid base64: %w", err)
	}
	return key, nil
}

// Verify checks the event's authenticity headers against the raw body
// before anything parses it. The signed content is "id.timestamp.body"
// and the signature header holds space-separated "v1,<base64>" values.
func (s *IdentitySyncService) Verify(msgID, timestamp, signature string, body []byte) error {
	if msgID == "" || timestamp == "" || signature == "" {
		return model.E(model.KindAuthenticity, "missing webhook authenticity headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return model.E(model.KindAuthenticity, "malformed webhook timestamp")
	}
	age := time.Since(time.Unix(ts, 0))
	if age > s.tolerance || age < -s.tolerance {
		return model.E(model.KindAuthenticity, "webhook timestamp outside the acceptance window")
	}

	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(signature) {
		candidate = strings.TrimPrefix(candidate, "v1,")
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return model.E(model.KindAuthenticity, "webhook signature mismatch")
}

// Process applies one verified event. Created and updated both upsert
// by email, so a replayed created event never duplicates a user;
// deleting an already absent user succeeds.
func (s *IdentitySyncService) Process(event IdentityEvent) error {
	email := strings.TrimSpace(event.Data.Email)
	if email == "" {
		return model.E(model.KindInvalidInput, "identity event is missing the email correlation key")
	}
	name := strings.TrimSpace(strings.TrimSpace(event.Data.FirstName) + " " + strings.TrimSpace(event.Data.LastName))

	switch event.Type {
	case EventUserCreated, EventUserUpdated:
		return s.upsert(email, name, event.Data.ImageURL)
	case EventUserDeleted:
		if err := s.db.Where("email = ?", email).Delete(&model.User{}).Error; err != nil {
			return model.WrapE(model.KindPersistenceFailed, "failed to delete user", err)
		}
		s.logger.Infof("identity sync: deleted user %s", email)
		return nil
	default:
		s.logger.Infof("identity sync: ignoring event type %s", event.Type)
		return nil
	}
}

func (s *IdentitySyncService) upsert(email, name, avatar string) error {
	var user model.User
	err := s.db.Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		user.Name = name
		user.Avatar = avatar
		if err := s.db.Save(&user).Error; err != nil {
			return model.WrapE(model.KindPersistenceFailed, "failed to update user", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{Email: email, Name: name, Avatar: avatar}
		if err := s.db.Create(&user).Error; err != nil {
			return model.WrapE(model.KindPersistenceFailed, "failed to create user", err)
		}
	default:
		return model.WrapE(model.KindPersistenceFailed, "failed to look up user", err)
	}
	s.logger.Infof("identity sync: upserted user %s", email)
	return nil
}
