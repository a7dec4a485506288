package faexport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies FAExport error payloads into a closed set.
type ErrorKind string

const (
	// KindHostUnavailable means the gateway in front of FAExport returned
	// something that is not JSON (typically a Cloudflare HTML error page).
	KindHostUnavailable ErrorKind = "host_unavailable"
	// KindUnknown is a tag FAExport documents but this client does not model.
	KindUnknown ErrorKind = "unknown"
	// KindUnrecognized is a tag this client has never seen.
	KindUnrecognized ErrorKind = "unrecognized"

	KindForm          ErrorKind = "form"
	KindOffset        ErrorKind = "offset"
	KindSearch        ErrorKind = "search"
	KindStyle         ErrorKind = "style"
	KindLogin         ErrorKind = "login"
	KindLoginCookie   ErrorKind = "login_cookie"
	KindGuestAccess   ErrorKind = "guest_access"
	KindContentFilter ErrorKind = "content_filter"
	KindNotFound      ErrorKind = "not_found"
	KindUserNotFound  ErrorKind = "user_not_found"
	KindUserDisabled  ErrorKind = "user_disabled"
	KindSlowdown      ErrorKind = "slowdown"
	KindCloudflare    ErrorKind = "cloudflare"
)

// kindByTag maps FAExport's machine-readable error_type tags to kinds.
var kindByTag = map[string]ErrorKind{
	"fa_form":           KindForm,
	"fa_offset":         KindOffset,
	"fa_search":         KindSearch,
	"fa_style":          KindStyle,
	"fa_login":          KindLogin,
	"fa_login_cookie":   KindLoginCookie,
	"fa_guest_access":   KindGuestAccess,
	"fa_content_filter": KindContentFilter,
	"fa_not_found":      KindNotFound,
	"fa_no_user":        KindUserNotFound,
	"account_disabled":  KindUserDisabled,
	"fa_slowdown":       KindSlowdown,
	"fa_cloudflare":     KindCloudflare,
}

// knownUnknownTags are tags FAExport can emit but that carry no actionable
// meaning for this client. They map to KindUnknown rather than
// KindUnrecognized so genuinely new tags stand out in logs.
var knownUnknownTags = map[string]bool{
	"unknown":      true,
	"unknown_http": true,
	"fa_unknown":   true,
	"fa_system":    true,
	"fa_no_title":  true,
	"cache_error":  true,
	"fa_status":    true,
}

// APIError is an error payload returned by the FAExport API, classified
// into a kind. The original tag is preserved for diagnostics.
type APIError struct {
	Kind    ErrorKind
	Tag     string // original error_type value, empty for KindHostUnavailable
	Message string
	FAURL   string // FurAffinity URL the API was scraping, if reported
	Path    string // API path that produced the error
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Tag != "" {
		msg = e.Tag + ": " + msg
	}
	if e.FAURL != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.FAURL)
	}
	return fmt.Sprintf("faexport %s: %s [path=%s]", e.Kind, msg, e.Path)
}

// errorPayload is the JSON shape of an FAExport error response.
type errorPayload struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"error"`
	FAURL     string `json:"url"`
}

func fromErrorPayload(payload errorPayload, path string) *APIError {
	apiErr := &APIError{
		Tag:     payload.ErrorType,
		Message: payload.Message,
		FAURL:   payload.FAURL,
		Path:    path,
	}
	switch {
	case kindByTag[payload.ErrorType] != "":
		apiErr.Kind = kindByTag[payload.ErrorType]
	case knownUnknownTags[payload.ErrorType]:
		apiErr.Kind = KindUnknown
	default:
		apiErr.Kind = KindUnrecognized
	}
	return apiErr
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsSlowdown reports whether FA explicitly signalled overload. Only this
// class of error is retried by the client.
func IsSlowdown(err error) bool { return IsKind(err, KindSlowdown) }

// IsCloudflare reports the anti-automation challenge condition. The watcher
// and backfill retry this indefinitely with a fixed backoff.
func IsCloudflare(err error) bool { return IsKind(err, KindCloudflare) }

// IsNotFound reports whether a submission does not exist (any more).
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsUserGone reports conditions the routing layer maps to "no such user":
// unknown account or disabled account.
func IsUserGone(err error) bool {
	return IsKind(err, KindUserNotFound) || IsKind(err, KindUserDisabled)
}
