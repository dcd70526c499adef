package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

const (
	msgOTPSent         = "OTP sent to email. Please verify."
	msgOTPNotDelivered = "OTP issued but delivery failed. It may still arrive; otherwise request a new code."
	msgRegistered      = "User registered successfully"
	msgLoggedIn        = "Login successful"
)

type AuthHandler struct {
	authService ports.AuthService
}

func NewAuthHandler(authService ports.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type verifyOTPRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	OTP      string `json:"otp"      validate:"required,len=6,numeric"`
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email"    validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

type signupResponse struct {
	Message   string `json:"message"`
	Delivered bool   `json:"delivered"`
}

// authResponse mirrors the payload existing clients expect: token plus the
// public identity fields.
type authResponse struct {
	Token     string    `json:"token"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type meResponse struct {
	Message  string `json:"message"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// SignUp starts a signup and mails a one-time code.
//
// @Summary      Start signup
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signupRequest  true  "Desired credentials"
// @Success      200   {object}  signupResponse
// @Success      202   {object}  signupResponse  "code issued, mail not delivered"
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /auth/signup [post]
func (h *AuthHandler) SignUp(c echo.Context) error {
	var req signupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.authService.BeginSignup(c.Request().Context(), ports.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	switch {
	case errors.Is(err, domain.ErrDeliveryFailed):
		return c.JSON(http.StatusAccepted, signupResponse{Message: msgOTPNotDelivered})
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, signupResponse{Message: msgOTPSent, Delivered: true})
}

// VerifyOTP completes a signup and returns a bearer token.
//
// @Summary      Complete signup
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      verifyOTPRequest  true  "Code and credentials"
// @Success      201   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /auth/verify-otp [post]
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.authService.CompleteSignup(c.Request().Context(), ports.CompleteSignupInput{
		Email:    req.Email,
		Code:     req.OTP,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newAuthResponse(res, msgRegistered))
}

// Login authenticates a user and returns a bearer token.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials"
// @Success      200   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.authService.Login(c.Request().Context(), ports.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		// Unknown account and wrong password look the same from outside.
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrInvalidCredentials
		}
		return err
	}
	return c.JSON(http.StatusOK, newAuthResponse(res, msgLoggedIn))
}

// Me returns the identity carried by the bearer token.
//
// @Summary      Current identity
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  meResponse
// @Failure      401  {object}  errorResponse
// @Router       /auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	claims, err := ctxClaims(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, meResponse{
		Message:  "Hello " + claims.Subject,
		UserID:   claims.UserID,
		Username: claims.Subject,
		Email:    claims.Email,
		Role:     string(claims.Role),
	})
}

// GetUser returns the public fields of an identity. Admin only.
//
// @Summary      Look up a user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Param        username  path      string  true  "Username"
// @Success      200       {object}  userResponse
// @Failure      403       {object}  errorResponse
// @Failure      404       {object}  errorResponse
// @Router       /auth/users/{username} [get]
func (h *AuthHandler) GetUser(c echo.Context) error {
	user, err := h.authService.FindUser(c.Request().Context(), c.Param("username"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
	})
}

func newAuthResponse(res *ports.AuthResult, msg string) authResponse {
	return authResponse{
		Token:     res.Token,
		Message:   msg,
		Username:  res.User.Username,
		Email:     res.User.Email,
		ExpiresAt: res.ExpiresAt,
	}
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
