package router

import (
	"github.com/labstack/echo/v4"

	"lokapasar/internal/adapter/api/handler"
	"lokapasar/pkg/logger"
)

// SetupDevRouter registers development-only helpers. Nothing here is
// mounted outside a development environment.
func SetupDevRouter(e *echo.Echo, devTokenHandler *handler.DevTokenHandler, environment string) {
	if environment != "development" {
		return
	}

	logger.Warn("Development routes enabled")
	e.POST("/v1/dev/token", devTokenHandler.CreateToken)
}
