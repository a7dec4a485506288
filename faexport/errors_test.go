package faexport

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestFromErrorPayload checks the tag-to-kind classification, including
// both fallback tiers.
func TestFromErrorPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want ErrorKind
	}{
		{"fa_form", KindForm},
		{"fa_offset", KindOffset},
		{"fa_search", KindSearch},
		{"fa_style", KindStyle},
		{"fa_login", KindLogin},
		{"fa_login_cookie", KindLoginCookie},
		{"fa_guest_access", KindGuestAccess},
		{"fa_content_filter", KindContentFilter},
		{"fa_not_found", KindNotFound},
		{"fa_no_user", KindUserNotFound},
		{"account_disabled", KindUserDisabled},
		{"fa_slowdown", KindSlowdown},
		{"fa_cloudflare", KindCloudflare},
		// Tags FAExport documents but this client does not model.
		{"fa_system", KindUnknown},
		{"cache_error", KindUnknown},
		{"unknown_http", KindUnknown},
		// A tag nobody has seen before must still produce a typed error.
		{"fa_brand_new_failure_mode", KindUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			t.Parallel()
			err := fromErrorPayload(errorPayload{ErrorType: tt.tag, Message: "boom"}, "/submission/1.json")
			if err.Kind != tt.want {
				t.Errorf("kind for tag %q = %q, want %q", tt.tag, err.Kind, tt.want)
			}
			if err.Tag != tt.tag {
				t.Errorf("original tag not preserved: got %q, want %q", err.Tag, tt.tag)
			}
		})
	}
}

// TestAPIErrorMessage keeps the original tag and path visible for
// diagnostics.
func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	err := fromErrorPayload(errorPayload{
		ErrorType: "fa_mystery",
		Message:   "something odd",
		FAURL:     "https://www.furaffinity.net/view/123/",
	}, "/submission/123.json")

	msg := err.Error()
	for _, want := range []string{"fa_mystery", "something odd", "/submission/123.json"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

// TestKindHelpers exercises the errors.As helpers through wrapping.
func TestKindHelpers(t *testing.T) {
	t.Parallel()

	slowdown := fmt.Errorf("request failed: %w", &APIError{Kind: KindSlowdown, Tag: "fa_slowdown"})
	if !IsSlowdown(slowdown) {
		t.Error("IsSlowdown() = false for wrapped slowdown error")
	}
	if IsSlowdown(errors.New("plain error")) {
		t.Error("IsSlowdown() = true for a plain error")
	}

	if !IsCloudflare(&APIError{Kind: KindCloudflare}) {
		t.Error("IsCloudflare() = false for cloudflare error")
	}
	if !IsNotFound(&APIError{Kind: KindNotFound}) {
		t.Error("IsNotFound() = false for not-found error")
	}
	if IsNotFound(&APIError{Kind: KindUserNotFound}) {
		t.Error("IsNotFound() = true for a missing user; that is IsUserGone territory")
	}
	if !IsUserGone(&APIError{Kind: KindUserNotFound}) || !IsUserGone(&APIError{Kind: KindUserDisabled}) {
		t.Error("IsUserGone() should cover both unknown and disabled accounts")
	}
}
