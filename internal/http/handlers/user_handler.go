// User HTTP handlers.
//
// This file exposes REST endpoints for accounts:
//   - POST /users/register   (public)
//   - POST /users/login      (public; JSON or form)
//   - GET  /users            (list)
//   - GET  /users/me
//   - GET  /users/{id}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/utils"
)

//
// DTOs
//

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required" example:"Alice"`
	Email    string `json:"email" binding:"required" example:"alice@example.com"`
	Password string `json:"password" binding:"required,min=8,max=100" example:"correct-horse"`
}

// LoginRequest is the JSON payload for signing in. Form posts use
// username/password instead.
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"alice@example.com"`
	Password string `json:"password" binding:"required" example:"correct-horse"`
}

// TokenResponse carries an access token for the Authorization header or the
// socket auth frame.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type" example:"bearer"`
}

// ListUsersResponse wraps a window of users.
type ListUsersResponse struct {
	Users []domain.User `json:"users"`
}

//
// Handlers
//

// Register godoc
// @ID          registerUser
// @Summary     Register an account
// @Tags        Users
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Account details"
//
// @Success     201  {object} domain.User
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Email already registered"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /users/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name, email and password (8-100 chars) required")
		return
	}
	u, err := h.userSvc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		failErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Login godoc
// @ID          loginUser
// @Summary     Sign in
// @Description Exchanges credentials for a bearer token. Accepts JSON {email,password} or a form with username/password. Also sets the access_token cookie when enabled.
// @Tags        Users
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object} handlers.TokenResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Invalid credentials"
// @Router      /users/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var email, password string
	switch c.ContentType() {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		email, password = c.PostForm("username"), c.PostForm("password")
	default:
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password required")
			return
		}
		email, password = req.Email, req.Password
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password required")
		return
	}

	tok, _, err := h.userSvc.Login(c.Request.Context(), email, password)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	if h.tokenTTL > 0 {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.AccessTokenCookie, tok, int(h.tokenTTL.Seconds()), "/", "", h.secureCookie, true)
	}
	ok(c, http.StatusOK, TokenResponse{AccessToken: tok, TokenType: "bearer"})
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       limit   query  int  false "Users per window"  minimum(1) maximum(100) default(50)
// @Param       offset  query  int  false "Users to skip"     minimum(0) default(0)
//
// @Success     200  {object} handlers.ListUsersResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	limit, offset := utils.ClampWindow(
		utils.AtoiDefault(c.Query("limit"), 0),
		utils.AtoiDefault(c.Query("offset"), 0),
		50, 100,
	)
	us, err := h.userSvc.List(c.Request.Context(), offset, limit)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListUsersResponse{Users: us})
}

// Me godoc
// @ID          getMe
// @Summary     Current user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} domain.User
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /users/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.userSvc.Get(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "User ID"
//
// @Success     200  {object} domain.User
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.userSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}
