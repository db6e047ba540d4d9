// Package classify maps raw delivery error text onto a fixed set of
// human-readable failure categories used in reports.
//
// Classification is keyword-driven and never changes control flow; it only
// labels log and report entries.
package classify

import "strings"

type Category string

const (
	CategoryPrivacy      Category = "privacy restricted"
	CategoryBlocked      Category = "blocked by recipient"
	CategoryNoWrite      Category = "no permission to write"
	CategoryNotMutual    Category = "not a mutual contact"
	CategoryRateLimited  Category = "rate limited"
	CategoryFlood        Category = "account flood-limited"
	CategoryBanned       Category = "account banned"
	CategoryRestricted   Category = "account restricted"
	CategoryDeactivated  Category = "account deactivated"
	CategoryNotFound     Category = "target not found"
	CategoryDeleted      Category = "target deleted"
	CategoryTimeout      Category = "network timeout"
	CategoryNetwork      Category = "network error"
	CategoryProxyInvalid Category = "template code invalid or expired"
	CategoryUnknown      Category = "unknown error"
)

const previewLimit = 50

// Categorize buckets an error message. Unrecognized messages come back as
// "other: <preview>" so the report stays readable without losing signal.
func Categorize(errMsg string) Category {
	if strings.TrimSpace(errMsg) == "" {
		return CategoryUnknown
	}
	lower := strings.ToLower(errMsg)

	switch {
	// Privacy and permission failures.
	case contains(lower, "privacy", "userprivacyrestricted"):
		return CategoryPrivacy
	case contains(lower, "blocked", "userisblocked"):
		return CategoryBlocked
	case contains(lower, "chatwriteforbidden", "write_forbidden", "write forbidden"):
		return CategoryNoWrite
	case contains(lower, "notmutualcontact", "not_mutual_contact", "mutual contact"):
		return CategoryNotMutual

	// Throttling.
	case contains(lower, "peerflood", "peer flood"):
		return CategoryFlood
	case contains(lower, "flood", "rate limited", "retry after", "too many requests"):
		return CategoryRateLimited

	// Account state.
	case contains(lower, "banned"):
		return CategoryBanned
	case contains(lower, "restricted"):
		return CategoryRestricted
	case contains(lower, "deactivated"):
		return CategoryDeactivated

	// Templating proxy. Checked before target state so a "template code
	// invalid" message does not fall into the generic "invalid" bucket.
	case contains(lower, "proxy code", "template code", "inline query"):
		return CategoryProxyInvalid

	// Target state.
	case contains(lower, "deleted"):
		return CategoryDeleted
	case contains(lower, "not found", "notfound", "no such", "invalid"):
		return CategoryNotFound

	// Transport.
	case contains(lower, "timeout", "timed out", "deadline exceeded"):
		return CategoryTimeout
	case contains(lower, "connection", "network"):
		return CategoryNetwork
	}

	return Category("other: " + preview(errMsg))
}

func contains(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func preview(s string) string {
	rs := []rune(s)
	if len(rs) <= previewLimit {
		return s
	}
	return string(rs[:previewLimit]) + "..."
}
