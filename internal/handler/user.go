package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vitalpoint/account-service/internal/middleware"
	"github.com/vitalpoint/account-service/internal/model"
	"github.com/vitalpoint/account-service/internal/repository"
	"github.com/vitalpoint/account-service/internal/service"
)

// UserHandler serves the profile endpoints. Reads and profile updates go to
// the repository directly; anything that touches auth state (deactivation)
// goes through the session manager.
type UserHandler struct {
	Users    *repository.UserRepo
	Sessions *service.Session
	Timeout  time.Duration
}

func NewUserHandler(users *repository.UserRepo, sessions *service.Session, timeout time.Duration) *UserHandler {
	return &UserHandler{Users: users, Sessions: sessions, Timeout: timeout}
}

// profileResp is the full user view minus the password hash.
type profileResp struct {
	ID          uint64    `json:"user_id"`
	Name        string    `json:"name"`
	Gender      string    `json:"gender"`
	DOB         string    `json:"dob"`
	Mobile      string    `json:"mobile"`
	Email       string    `json:"email"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_on"`

	BloodGroup    *string  `json:"blood_group,omitempty"`
	HeightCm      *float64 `json:"height_cm,omitempty"`
	WeightKg      *float64 `json:"weight_kg,omitempty"`
	Diabetic      bool     `json:"diabetic"`
	BloodPressure *string  `json:"blood_pressure,omitempty"`

	EmergencyContactName     *string  `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone    *string  `json:"emergency_contact_phone,omitempty"`
	EmergencyContactRelation *string  `json:"emergency_contact_relation,omitempty"`
	MedicalConditions        []string `json:"medical_conditions,omitempty"`

	AllowNotifications bool `json:"allow_notifications"`
}

type updateProfileReq struct {
	Name          *string  `json:"name"`
	Gender        *string  `json:"gender"`
	DOB           *string  `json:"dob"` // YYYY-MM-DD
	Address       *string  `json:"address"`
	City          *string  `json:"city"`
	BloodGroup    *string  `json:"blood_group"`
	HeightCm      *float64 `json:"height_cm"`
	WeightKg      *float64 `json:"weight_kg"`
	Diabetic      *bool    `json:"diabetic"`
	BloodPressure *string  `json:"blood_pressure"`
}

type userPage struct {
	Users      []profileResp `json:"users"`
	TotalCount int           `json:"total_count"`
	Offset     int           `json:"offset"`
	Limit      int           `json:"limit"`
}

func toProfile(u model.User) profileResp {
	return profileResp{
		ID:                       u.ID,
		Name:                     u.Name,
		Gender:                   u.Gender,
		DOB:                      u.DateOfBirth.Format("2006-01-02"),
		Mobile:                   u.Mobile,
		Email:                    u.Email,
		Address:                  u.Address,
		City:                     u.City,
		Active:                   u.IsActive,
		CreatedAt:                u.CreatedAt,
		BloodGroup:               u.BloodGroup,
		HeightCm:                 u.HeightCm,
		WeightKg:                 u.WeightKg,
		Diabetic:                 u.Diabetic,
		BloodPressure:            u.BloodPressure,
		EmergencyContactName:     u.EmergencyContactName,
		EmergencyContactPhone:    u.EmergencyContactPhone,
		EmergencyContactRelation: u.EmergencyContactRelation,
		MedicalConditions:        u.MedicalConditions,
		AllowNotifications:       u.AllowNotifications,
	}
}

func (h *UserHandler) opCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// Me returns the authenticated user's profile.
func (h *UserHandler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := h.opCtx(c)
	defer cancel()
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return repoError(c, err)
	}
	return c.JSON(http.StatusOK, toProfile(u))
}

// GetUser returns any user's profile by id.
func (h *UserHandler) GetUser(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	ctx, cancel := h.opCtx(c)
	defer cancel()
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return repoError(c, err)
	}
	return c.JSON(http.StatusOK, toProfile(u))
}

// ListUsers returns a page of users, newest first.
func (h *UserHandler) ListUsers(c echo.Context) error {
	offset, limit := pagination(c)
	ctx, cancel := h.opCtx(c)
	defer cancel()
	users, total, err := h.Users.List(ctx, offset, limit)
	if err != nil {
		return repoError(c, err)
	}
	return c.JSON(http.StatusOK, pageOf(users, total, offset, limit))
}

// SearchUsers matches name, email, mobile or city.
func (h *UserHandler) SearchUsers(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "q required"})
	}
	offset, limit := pagination(c)
	ctx, cancel := h.opCtx(c)
	defer cancel()
	users, total, err := h.Users.Search(ctx, query, offset, limit)
	if err != nil {
		return repoError(c, err)
	}
	return c.JSON(http.StatusOK, pageOf(users, total, offset, limit))
}

// UpdateProfile applies a partial profile update to the caller's own record.
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req updateProfileReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	upd := model.ProfileUpdate{
		Name:          req.Name,
		Gender:        req.Gender,
		Address:       req.Address,
		City:          req.City,
		BloodGroup:    req.BloodGroup,
		HeightCm:      req.HeightCm,
		WeightKg:      req.WeightKg,
		Diabetic:      req.Diabetic,
		BloodPressure: req.BloodPressure,
	}
	if req.DOB != nil {
		dob, err := time.Parse("2006-01-02", *req.DOB)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "dob must be YYYY-MM-DD"})
		}
		upd.DateOfBirth = &dob
	}
	ctx, cancel := h.opCtx(c)
	defer cancel()
	if err := h.Users.UpdateProfile(ctx, uid, upd); err != nil {
		return repoError(c, err)
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return repoError(c, err)
	}
	return c.JSON(http.StatusOK, toProfile(u))
}

// Deactivate soft-deletes the caller's own account and ends its sessions.
func (h *UserHandler) Deactivate(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Sessions.Deactivate(c.Request().Context(), uid); err != nil {
		return authError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pageOf(users []model.User, total, offset, limit int) userPage {
	out := userPage{Users: make([]profileResp, 0, len(users)), TotalCount: total, Offset: offset, Limit: limit}
	for _, u := range users {
		out.Users = append(out.Users, toProfile(u))
	}
	return out
}

func pagination(c echo.Context) (offset, limit int) {
	limit = 50
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 && n <= 200 {
		limit = n
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n > 0 {
		offset = n
	}
	return offset, limit
}

func repoError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "storage timeout"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
