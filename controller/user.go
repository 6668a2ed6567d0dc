package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"deepchat/service"
)

// UserController ...
type UserController struct {
	users  *service.UserService
	tokens *service.TokenService
	logger *logrus.Logger
}

func NewUserController(users *service.UserService, tokens *service.TokenService, logger *logrus.Logger) *UserController {
	return &UserController{users: users, tokens: tokens, logger: logger}
}

func (ctrl *UserController) Register(c *gin.Context) {
	ctrl.logger.Infof("[%s] Handling user registration request", c.GetString("requestId"))

	var input service.Registration
	if err := c.ShouldBindJSON(&input); err != nil {
		ctrl.logger.Warnf("[%s] Invalid input, %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"kind": "invalid_input", "message": "invalid request body"}})
		return
	}

	user, err := ctrl.users.Register(input)
	if err != nil {
		ctrl.logger.Warnf("[%s] Failed to register user %s: %s", c.GetString("requestId"), input.Email, err)
		respondError(c, err)
		return
	}

	ctrl.logger.Infof("[%s] User %s registered successfully", c.GetString("requestId"), user.Email)
	respondData(c, http.StatusCreated, user)
}

func (ctrl *UserController) Login(c *gin.Context) {
	ctrl.logger.Infof("[%s] Handling user login request", c.GetString("requestId"))

	var loginRequest struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&loginRequest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"kind": "invalid_input", "message": "invalid request body"}})
		return
	}

	token, err := ctrl.users.Login(loginRequest.Email, loginRequest.Password)
	if err != nil {
		ctrl.logger.Warnf("[%s] User %s failed to login: %s", c.GetString("requestId"), loginRequest.Email, err)
		respondError(c, err)
		return
	}

	ctrl.logger.Infof("[%s] User %s login successfully", c.GetString("requestId"), loginRequest.Email)
	respondData(c, http.StatusOK, gin.H{"token": token})
}

func (ctrl *UserController) Logout(c *gin.Context) {
	if err := ctrl.tokens.Revoke(c.Request); err != nil {
		ctrl.logger.Warnf("[%s] Logout failed: %s", c.GetString("requestId"), err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"message": "logged out"})
}
