package service

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	uuid "github.com/google/uuid"
	"gorm.io/gorm"

	"deepchat/model"
)

// TokenDetails ...
type TokenDetails struct {
	AccessToken string
	AccessUUID  string
	AtExpires   int64
}

// AccessDetails is the caller identity resolved from a token.
type AccessDetails struct {
	AccessUUID string
	UserID     uint
	Email      string
}

// TokenService issues and verifies access tokens and tracks the
// logout revocation list.
type TokenService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
}

func NewTokenService(db *gorm.DB, secret string) *TokenService {
	return &TokenService{
		db:     db,
		secret: []byte(secret),
		ttl:    time.Hour * 24 * 7,
	}
}

// CreateToken ...
func (t *TokenService) CreateToken(userID uint, email string) (*TokenDetails, error) {
	td := &TokenDetails{}
	td.AtExpires = time.Now().Add(t.ttl).Unix()
	td.AccessUUID = uuid.New().String()

	atClaims := jwt.MapClaims{}
	atClaims["authorized"] = true
	atClaims["access_uuid"] = td.AccessUUID
	atClaims["user_id"] = userID
	atClaims["email"] = email
	atClaims["exp"] = td.AtExpires

	at := jwt.NewWithClaims(jwt.SigningMethodHS256, atClaims)
	var err error
	td.AccessToken, err = at.SignedString(t.secret)
	if err != nil {
		return nil, err
	}
	return td, nil
}

// ExtractToken ...
func (t *TokenService) ExtractToken(r *http.Request) string {
	bearToken := r.Header.Get("Authorization")
	//normally Authorization the_token_xxx
	strArr := strings.Split(bearToken, " ")
	if len(strArr) == 2 {
		return strArr[1]
	}
	return ""
}

// VerifyToken ...
func (t *TokenService) VerifyToken(r *http.Request) (*jwt.Token, error) {
	tokenString := t.ExtractToken(r)
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		//Make sure that the token method conform to "SigningMethodHMAC"
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ExtractTokenMetadata resolves the caller identity from the request
// token. A revoked token resolves to nothing.
func (t *TokenService) ExtractTokenMetadata(r *http.Request) (*AccessDetails, error) {
	token, err := t.VerifyToken(r)
	if err != nil {
		return nil, model.WrapE(model.KindUnauthenticated, "invalid or expired token", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, model.E(model.KindUnauthenticated, "invalid or expired token")
	}

	accessUUID, ok := claims["access_uuid"].(string)
	if !ok {
		return nil, model.E(model.KindUnauthenticated, "token is missing its id")
	}
	userID, err := strconv.ParseUint(fmt.Sprintf("%.f", claims["user_id"]), 10, 64)
	if err != nil {
		return nil, model.E(model.KindUnauthenticated, "token is missing its subject")
	}
	email, _ := claims["email"].(string)

	revoked, err := t.isRevoked(accessUUID)
	if err != nil {
		return nil, model.WrapE(model.KindPersistenceFailed, "revocation check failed", err)
	}
	if revoked {
		return nil, model.E(model.KindUnauthenticated, "token has been revoked")
	}

	return &AccessDetails{
		AccessUUID: accessUUID,
		UserID:     uint(userID),
		Email:      email,
	}, nil
}

// Refresh mints a new token for the caller of r.
func (t *TokenService) Refresh(r *http.Request) (*TokenDetails, error) {
	md, err := t.ExtractTokenMetadata(r)
	if err != nil {
		return nil, err
	}
	return t.CreateToken(md.UserID, md.Email)
}

// Revoke blacklists the request's token until its natural expiry.
// Revoking an already revoked token succeeds.
func (t *TokenService) Revoke(r *http.Request) error {
	token, err := t.VerifyToken(r)
	if err != nil {
		return model.WrapE(model.KindUnauthenticated, "invalid or expired token", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return model.E(model.KindUnauthenticated, "invalid or expired token")
	}
	accessUUID, ok := claims["access_uuid"].(string)
	if !ok {
		return model.E(model.KindUnauthenticated, "token is missing its id")
	}
	exp, err := strconv.ParseInt(fmt.Sprintf("%.f", claims["exp"]), 10, 64)
	if err != nil {
		return model.E(model.KindUnauthenticated, "token is missing its expiry")
	}

	revoked := model.RevokedToken{TokenID: accessUUID, ExpiresAt: time.Unix(exp, 0)}
	if err := t.db.Where("token_id = ?", accessUUID).FirstOrCreate(&revoked).Error; err != nil {
		return model.WrapE(model.KindPersistenceFailed, "failed to record revocation", err)
	}
	return nil
}

// PurgeExpired drops revocation rows whose tokens have expired; run
// from the cron schedule.
func (t *TokenService) PurgeExpired() error {
	return t.db.Where("expires_at < ?", time.Now()).Delete(&model.RevokedToken{}).Error
}

func (t *TokenService) isRevoked(accessUUID string) (bool, error) {
	var revoked model.RevokedToken
	err := t.db.Where("token_id = ?", accessUUID).First(&revoked).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
