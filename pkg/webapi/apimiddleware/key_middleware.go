package apimiddleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// KeyHeader carries the daemon key. The daemon writes its key to a file only its
// administrators can read, and clients send it back with every request.
const KeyHeader = "X-TapeHSM-Key"

type KeyConfig struct {
	Skipper middleware.Skipper
	Keyname string
	Key     string
}

func KeyAuth(config KeyConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	if config.Keyname == "" {
		config.Keyname = KeyHeader
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			value, err := getKeyFromRequest(config.Keyname, c)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}

			if subtle.ConstantTimeCompare([]byte(value), []byte(config.Key)) != 1 {
				return echo.ErrUnauthorized
			}

			return next(c)
		}
	}
}

func getKeyFromRequest(key string, c echo.Context) (string, error) {
	if value := c.Request().Header.Get(key); value != "" {
		return value, nil
	}

	// Websocket clients in browsers cannot set headers.
	if value := c.QueryParam("key"); value != "" {
		return value, nil
	}

	return "", fmt.Errorf("no key '%s' as header or key query param", key)
}
