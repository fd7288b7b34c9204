package handler

import (
	"github.com/labstack/echo/v4"

	"lokapasar/internal/infrastructure/firebase"
	"lokapasar/pkg/response"
)

// DevTokenHandler mints Firebase custom tokens for local testing. It is
// only routed in development environments.
type DevTokenHandler struct {
	authClient *firebase.FirebaseAuthClient
}

func NewDevTokenHandler(authClient *firebase.FirebaseAuthClient) *DevTokenHandler {
	return &DevTokenHandler{
		authClient: authClient,
	}
}

type devTokenRequest struct {
	UID string `json:"uid" validate:"required"`
}

func (h *DevTokenHandler) CreateToken(c echo.Context) error {
	var req devTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	token, err := h.authClient.CreateCustomToken(c.Request().Context(), req.UID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"custom_token": token})
}
