package apperr

import "github.com/labstack/echo/v4"

// Body is the JSON error document returned by the HTTP API.
type Body struct {
	Error    Kind     `json:"error"`
	Message  string   `json:"message"`
	Category Category `json:"category"`
}

// BodyOf describes err for an API client.
func BodyOf(err error) Body {
	return Body{Error: KindOf(err), Message: err.Error(), Category: CategoryOf(err)}
}

// ToHTTP converts err into an echo error that renders as Body with the
// status from HTTPStatus. Unclassified errors keep their text out of the
// response.
func ToHTTP(err error) *echo.HTTPError {
	body := BodyOf(err)
	if body.Error == KindInternal {
		body.Message = "internal error"
	}
	return echo.NewHTTPError(HTTPStatus(err), body).SetInternal(err)
}
