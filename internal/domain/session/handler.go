package session

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/portal/portal/internal/domain/remember"
	"github.com/portal/portal/internal/platform/backend"
	"github.com/portal/portal/internal/platform/identity"
	"github.com/portal/portal/internal/platform/validate"
)

const (
	sessionCookie = "portal_sid"
	deviceCookie  = "portal_did"
)

type Handler struct {
	svc           *Service
	registry      *Registry
	remember      *remember.Service // nil when persistence is disabled
	secureCookies bool
	logger        zerolog.Logger
}

func NewHandler(svc *Service, registry *Registry, rem *remember.Service, secureCookies bool, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:           svc,
		registry:      registry,
		remember:      rem,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

func (h *Handler) RegisterRoutes(auth, portal *echo.Group) {
	auth.POST("/lookup", h.Lookup)
	auth.POST("/verify-name", h.VerifyName)
	auth.POST("/otp/resend", h.ResendCode)
	auth.POST("/otp/verify", h.VerifyCode)
	auth.GET("/session", h.SessionState)
	auth.POST("/logout", h.Logout)
	auth.GET("/remembered-phone", h.RememberedPhone)
	portal.GET("/profile", h.Profile)
	portal.GET("/clinic", h.Clinic)
}

type lookupRequest struct {
	Phone      string `json:"phone"`
	DOB        string `json:"dob"`
	RememberMe bool   `json:"remember_me"`
}

func (h *Handler) Lookup(c echo.Context) error {
	var req lookupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s := h.session(c)
	snap, err := h.svc.BeginLogin(c.Request().Context(), s, req.Phone, req.DOB)
	if err != nil {
		return h.mapError(c, err)
	}
	if req.RememberMe {
		h.saveRememberedPhone(c, snap.Phone)
	}
	return c.JSON(http.StatusOK, snap)
}

type verifyNameRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) VerifyName(c echo.Context) error {
	var req verifyNameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s := h.session(c)
	snap, err := h.svc.Disambiguate(c.Request().Context(), s, req.FirstName, req.LastName)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ResendCode(c echo.Context) error {
	s := h.session(c)
	snap, err := h.svc.ResendCode(c.Request().Context(), s)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) VerifyCode(c echo.Context) error {
	var req verifyCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s := h.session(c)
	snap, err := h.svc.VerifyCode(c.Request().Context(), s, req.Code)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) SessionState(c echo.Context) error {
	s := h.session(c)
	return c.JSON(http.StatusOK, h.svc.Snapshot(s))
}

func (h *Handler) Logout(c echo.Context) error {
	s := h.session(c)
	if err := h.svc.Logout(c.Request().Context(), s); err != nil {
		return h.mapError(c, err)
	}
	h.clearRememberedPhone(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RememberedPhone(c echo.Context) error {
	phone := ""
	if h.remember != nil {
		if cookie, err := c.Cookie(deviceCookie); err == nil {
			if deviceID, err := uuid.Parse(cookie.Value); err == nil {
				p, err := h.remember.Load(c.Request().Context(), deviceID)
				if err != nil {
					h.logger.Warn().Err(err).Msg("remembered phone load failed")
				} else {
					phone = p
				}
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"phone": phone})
}

func (h *Handler) Profile(c echo.Context) error {
	s := h.session(c)
	profile, err := h.svc.Profile(c.Request().Context(), s)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) Clinic(c echo.Context) error {
	cfg, err := h.svc.ClinicInfo(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "clinic configuration unavailable")
	}
	return c.JSON(http.StatusOK, cfg)
}

// session resolves the caller's session from the cookie, creating a fresh
// logged-out session (and setting the cookie) when none exists.
func (h *Handler) session(c echo.Context) *Session {
	if cookie, err := c.Cookie(sessionCookie); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			if s, ok := h.registry.Get(id); ok {
				return s
			}
		}
	}
	s := h.registry.Create()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    s.ID.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

func (h *Handler) saveRememberedPhone(c echo.Context, phone string) {
	if h.remember == nil || phone == "" {
		return
	}
	deviceID := uuid.Nil
	if cookie, err := c.Cookie(deviceCookie); err == nil {
		deviceID, _ = uuid.Parse(cookie.Value)
	}
	if deviceID == uuid.Nil {
		deviceID = uuid.New()
		c.SetCookie(&http.Cookie{
			Name:     deviceCookie,
			Value:    deviceID.String(),
			Path:     "/",
			MaxAge:   int(remember.TTL / time.Second),
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	if err := h.remember.Save(c.Request().Context(), deviceID, phone); err != nil {
		h.logger.Warn().Err(err).Msg("remembered phone save failed")
	}
}

func (h *Handler) clearRememberedPhone(c echo.Context) {
	if h.remember == nil {
		return
	}
	cookie, err := c.Cookie(deviceCookie)
	if err != nil {
		return
	}
	if deviceID, err := uuid.Parse(cookie.Value); err == nil {
		if err := h.remember.Clear(c.Request().Context(), deviceID); err != nil {
			h.logger.Warn().Err(err).Msg("remembered phone clear failed")
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     deviceCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) mapError(c echo.Context, err error) error {
	var cd *CooldownError
	if errors.As(err, &cd) {
		secs := int((cd.Remaining + time.Second - 1) / time.Second)
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return echo.NewHTTPError(http.StatusTooManyRequests, cd.Error())
	}

	switch {
	case errors.Is(err, validate.ErrPhoneEmpty),
		errors.Is(err, validate.ErrPhoneTooShort),
		errors.Is(err, validate.ErrPhoneTooLong),
		errors.Is(err, validate.ErrPhoneFormat),
		errors.Is(err, validate.ErrDOBEmpty),
		errors.Is(err, validate.ErrDOBUnparseable),
		errors.Is(err, validate.ErrDOBFuture),
		errors.Is(err, validate.ErrDOBTooOld):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoAccount):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOperationInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotDisambiguating), errors.Is(err, ErrNotAwaitingCode):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNameTooShort), errors.Is(err, ErrNameMismatch), errors.Is(err, ErrAmbiguousName):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrCodeFormat), errors.Is(err, identity.ErrInvalidCode), errors.Is(err, identity.ErrCodeExpired):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSessionExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, backend.ErrExchangeRejected):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, identity.ErrUnauthorizedOrigin):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrInvalidPhone):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLookupUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		h.logger.Error().Err(err).Msg("unhandled session error")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
