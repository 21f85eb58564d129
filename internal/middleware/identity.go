package middleware

// identity.go holds helpers shared by middleware and handlers for reading
// the authenticated requester that JWTAuth stored in the Echo context.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Requester returns the authenticated subject, or "" when the request was
// not authenticated.
func Requester(c echo.Context) string {
	if s, ok := c.Get(CtxUserID).(string); ok {
		return s
	}
	return ""
}

// subject normalizes a "sub" claim.  Identity services differ in whether
// they emit numeric or string subjects; JSON numbers decode as float64.
func subject(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}

// userID returns the requester for rate-limit keys, "anon" when absent.
func userID(c echo.Context) string {
	if s := Requester(c); s != "" {
		return s
	}
	return "anon"
}
