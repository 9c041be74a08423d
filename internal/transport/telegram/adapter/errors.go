package adapter

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "castbot/internal/transport"
)

// telebot renders unrecognized Bot API failures as "telegram: <description> (<code>)".
var reAPIError = regexp.MustCompile(`^telegram: (.*) \((\d{3})\)$`)

// translateError turns telebot failures into *kit.APIError when the Bot API
// returned a structured error. Transport failures are returned unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *kit.APIError
	if errors.As(err, &apiErr) {
		return err
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.APIError{Code: http.StatusTooManyRequests, Description: describe(fe.Error()), RetryAfter: fe.RetryAfter, Err: err}
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return &kit.APIError{Code: http.StatusBadRequest, Description: describe(ge.Error()), Err: err}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code != 0 {
		desc := te.Description
		if desc == "" {
			desc = te.Message
		}
		return &kit.APIError{Code: te.Code, Description: desc, Err: err}
	}
	if m := reAPIError.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[2])
		return &kit.APIError{Code: code, Description: m[1], Err: err}
	}
	return err
}

// describe strips telebot's "telegram: ... (code)" envelope.
func describe(s string) string {
	if m := reAPIError.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
