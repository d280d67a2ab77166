package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

type accountHandlers struct {
	accounts Accounts
	log      *log.Logger
}

func (h *accountHandlers) register(c echo.Context, m *requestMetrics) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return bindFailed(c, m, err)
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, m, err)
	}

	user, err := h.accounts.Register(c.Request().Context(), domain.Registration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		return h.fail(c, m, "register", err)
	}
	m.SetUser(user.ID)
	return c.JSON(http.StatusOK, messageResponse{Message: msgUserCreated})
}

func (h *accountHandlers) login(c echo.Context, m *requestMetrics) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return bindFailed(c, m, err)
	}
	req.VerifyToken = strings.TrimSpace(req.VerifyToken)
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, m, err)
	}

	p, err := h.accounts.Login(c.Request().Context(), req.VerifyToken)
	if err != nil {
		return h.fail(c, m, "verify", err)
	}
	m.SetUser(p.UID)
	return c.JSON(http.StatusOK, messageResponse{Message: msgUserLoggedIn, User: decodedToken(p)})
}

// decodedToken returns the full verified payload with the uid alongside the
// standard claims.
func decodedToken(p domain.Principal) any {
	if p.Claims == nil {
		return p
	}
	out := make(map[string]any, len(p.Claims)+1)
	for k, v := range p.Claims {
		out[k] = v
	}
	out["uid"] = p.UID
	return out
}

func (h *accountHandlers) googleLogin(c echo.Context, m *requestMetrics) error {
	var req googleLoginRequest
	if err := c.Bind(&req); err != nil {
		return bindFailed(c, m, err)
	}
	req.IDToken = strings.TrimSpace(req.IDToken)
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, m, err)
	}

	user, created, err := h.accounts.FederatedLogin(c.Request().Context(), req.IDToken)
	if err != nil {
		return h.fail(c, m, "federated_login", err)
	}
	m.SetUser(user.ID)

	resp := profileResponse{ID: user.ID, Name: user.Name, Email: user.Email, Avatar: user.Avatar}
	if !created && !user.CreatedAt.IsZero() {
		createdAt := user.CreatedAt
		resp.CreatedAt = &createdAt
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgUserLoggedIn, User: resp})
}

// fail reports account failures with their cause, as clients show it on the
// sign-in form.
func (h *accountHandlers) fail(c echo.Context, m *requestMetrics, stage string, err error) error {
	m.Fail(stage, err)
	h.log.WithError(err).WithField("stage", stage).Error("account request failed")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: msgInternal, Message: err.Error()})
}
