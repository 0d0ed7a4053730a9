package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vitalpoint/account-service/internal/middleware"
	"github.com/vitalpoint/account-service/internal/model"
	"github.com/vitalpoint/account-service/internal/service"
)

// AuthHandler maps transport calls onto the session manager. All auth
// decisions happen in the service; this layer binds, validates shape and
// translates the error taxonomy to HTTP statuses.
type AuthHandler struct {
	Sessions *service.Session
}

func NewAuthHandler(s *service.Session) *AuthHandler {
	return &AuthHandler{Sessions: s}
}

// ----- DTOs -----

type registerReq struct {
	Name     string `json:"name"`
	Gender   string `json:"gender"`
	DOB      string `json:"dob"` // YYYY-MM-DD
	Mobile   string `json:"mobile"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Address  string `json:"address"`
	City     string `json:"city"`

	BloodGroup    *string  `json:"blood_group,omitempty"`
	HeightCm      *float64 `json:"height_cm,omitempty"`
	WeightKg      *float64 `json:"weight_kg,omitempty"`
	Diabetic      bool     `json:"diabetic"`
	BloodPressure *string  `json:"blood_pressure,omitempty"`

	EmergencyContactName     *string  `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone    *string  `json:"emergency_contact_phone,omitempty"`
	EmergencyContactRelation *string  `json:"emergency_contact_relation,omitempty"`
	MedicalConditions        []string `json:"medical_conditions,omitempty"`

	AllowNotifications *bool `json:"allow_notifications,omitempty"`
	AgreeToTerms       bool  `json:"agree_to_terms"`
	AgreeToPrivacy     bool  `json:"agree_to_privacy"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userSummary struct {
	ID     uint64 `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Mobile string `json:"mobile"`
	City   string `json:"city"`
	Active bool   `json:"active"`
}

type tokenResp struct {
	AccessToken    string      `json:"access_token"`
	RefreshToken   string      `json:"refresh_token"`
	TokenType      string      `json:"token_type"`
	ExpiresIn      int64       `json:"expires_in"` // access token lifetime, seconds
	RefreshExpires time.Time   `json:"refresh_expires_at"`
	User           userSummary `json:"user_info"`
}

// signupExtras is the explicitly-typed replacement for the legacy free-form
// additional_info block: every field is named, optional ones are pointers.
type signupExtras struct {
	HealthProfileStatus string `json:"health_profile_status"` // CREATED | INCOMPLETE
	AccountActivation   string `json:"account_activation"`    // ACTIVE
}

type signupResp struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Status  string       `json:"status"` // ACCOUNT_CREATED
	User    userSummary  `json:"user_details"`
	Extras  signupExtras `json:"additional_info"`
}

func summarize(u model.User) userSummary {
	return userSummary{ID: u.ID, Name: u.Name, Email: u.Email, Mobile: u.Mobile, City: u.City, Active: u.IsActive}
}

func newTokenResp(pair service.TokenPair, u model.User) tokenResp {
	return tokenResp{
		AccessToken:    pair.AccessToken,
		RefreshToken:   pair.RefreshToken,
		TokenType:      "bearer",
		ExpiresIn:      int64(time.Until(pair.AccessExpires).Round(time.Second).Seconds()),
		RefreshExpires: pair.RefreshExpires,
		User:           summarize(u),
	}
}

// Register creates an account and returns a typed confirmation.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Mobile = strings.TrimSpace(req.Mobile)
	if req.Email == "" || req.Password == "" || req.Mobile == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email, mobile and password required"})
	}
	if !req.AgreeToTerms || !req.AgreeToPrivacy {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "terms and privacy agreement required"})
	}
	dob, err := time.Parse("2006-01-02", req.DOB)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "dob must be YYYY-MM-DD"})
	}
	if req.Address == "" {
		req.Address = "Not provided"
	}
	if req.City == "" {
		req.City = "Not provided"
	}
	allowNotifications := true
	if req.AllowNotifications != nil {
		allowNotifications = *req.AllowNotifications
	}

	u, err := h.Sessions.Register(c.Request().Context(), service.RegisterInput{
		Name:                     req.Name,
		Gender:                   req.Gender,
		DateOfBirth:              dob,
		Mobile:                   req.Mobile,
		Email:                    req.Email,
		Password:                 req.Password,
		Address:                  req.Address,
		City:                     req.City,
		BloodGroup:               req.BloodGroup,
		HeightCm:                 req.HeightCm,
		WeightKg:                 req.WeightKg,
		Diabetic:                 req.Diabetic,
		BloodPressure:            req.BloodPressure,
		EmergencyContactName:     req.EmergencyContactName,
		EmergencyContactPhone:    req.EmergencyContactPhone,
		EmergencyContactRelation: req.EmergencyContactRelation,
		MedicalConditions:        req.MedicalConditions,
		AllowNotifications:       allowNotifications,
		AgreeToTerms:             req.AgreeToTerms,
		AgreeToPrivacy:           req.AgreeToPrivacy,
	})
	if err != nil {
		return authError(c, err)
	}

	health := "INCOMPLETE"
	if req.BloodGroup != nil || req.HeightCm != nil || req.WeightKg != nil || req.BloodPressure != nil {
		health = "CREATED"
	}
	return c.JSON(http.StatusCreated, signupResp{
		Success: true,
		Message: "User account created successfully",
		Status:  "ACCOUNT_CREATED",
		User:    summarize(u),
		Extras: signupExtras{
			HealthProfileStatus: health,
			AccountActivation:   "ACTIVE",
		},
	})
}

// Login exchanges credentials for a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}
	pair, u, err := h.Sessions.Login(c.Request().Context(), req.Email, req.Password, deviceContext(c))
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, newTokenResp(pair, u))
}

// Refresh rotates the presented refresh token for a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	pair, u, err := h.Sessions.Refresh(c.Request().Context(), strings.TrimSpace(req.RefreshToken), deviceContext(c))
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, newTokenResp(pair, u))
}

// Logout terminates the session behind the presented refresh token. Always
// 204: logout is idempotent and an unknown token is not worth reporting.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	if err := h.Sessions.Logout(c.Request().Context(), strings.TrimSpace(req.RefreshToken)); err != nil {
		return authError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every session of the authenticated user (protected).
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Sessions.LogoutAll(c.Request().Context(), uid); err != nil {
		return authError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ChangePassword swaps the password of the authenticated user (protected).
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "current_password and new_password required"})
	}
	if err := h.Sessions.ChangePassword(c.Request().Context(), uid, req.CurrentPassword, req.NewPassword); err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password changed successfully. Please login again."})
}

// deviceContext labels a session for auditing. Free-form client data, never
// used for authorization.
func deviceContext(c echo.Context) string {
	ua := c.Request().UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return ua
}

// authError translates the session manager's taxonomy to HTTP statuses.
func authError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrConflictEmail):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	case errors.Is(err, service.ErrConflictMobile):
		return c.JSON(http.StatusConflict, echo.Map{"error": "mobile already registered"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, service.ErrReuseDetected):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "refresh token reuse detected"})
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	case errors.Is(err, service.ErrTimeout):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "storage timeout"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
