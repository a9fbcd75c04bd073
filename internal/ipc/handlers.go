package ipc

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GET /status
func statusHandler(m Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSONPretty(http.StatusOK, m.Status(), "  ")
	}
}

// POST /stop
func stopHandler(m Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		m.EnqueueCommand(Command{Type: CommandStop})
		return c.JSON(http.StatusOK, Response{Status: "ok"})
	}
}

// POST /next
func nextHandler(m Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var cmd Command
		if err := c.Bind(&cmd); err != nil && c.Request().ContentLength > 0 {
			return c.JSON(http.StatusBadRequest, Response{
				Status:  "error",
				Message: "invalid command body",
			})
		}
		cmd.Type = CommandNext

		m.EnqueueCommand(cmd)
		return c.JSON(http.StatusOK, Response{Status: "ok"})
	}
}
