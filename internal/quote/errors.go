package quote

import (
	"errors"

	"github.com/noah-isme/dental-quote/internal/catalog"
	"github.com/noah-isme/dental-quote/internal/promo"
)

var (
	// ErrDuplicateLine is returned when a treatment is already part of the quote.
	ErrDuplicateLine = errors.New("treatment already in quote")
	// ErrLineNotFound is returned when a treatment is not part of the quote.
	ErrLineNotFound = errors.New("treatment not in quote")
	// ErrInvalidQuantity is returned for quantities outside 1..pricing.MaxQuantity.
	ErrInvalidQuantity = errors.New("quantity out of range")
	// ErrPackageLocked is returned for line changes while a package is applied.
	ErrPackageLocked = errors.New("quote lines are fixed by the applied package")
	// ErrSuperseded is returned when a newer change overtook a pending code lookup.
	ErrSuperseded = errors.New("code application superseded")
	// ErrSnapshotCorrupt marks a stored snapshot that cannot be restored.
	ErrSnapshotCorrupt = errors.New("quote snapshot corrupt")
	// ErrSnapshotUnavailable is returned when the snapshot store cannot be read.
	// The session is not restored, so a later request can retry.
	ErrSnapshotUnavailable = errors.New("quote snapshot store unavailable")
	// ErrSessionNotFound is returned for malformed session identifiers.
	ErrSessionNotFound = errors.New("quote session not found")
	// ErrEmptyQuote is returned when handing off a quote without lines.
	ErrEmptyQuote = errors.New("quote has no treatments")
	// ErrInconsistentHandoff is returned when hand-off totals disagree with its lines and rule.
	ErrInconsistentHandoff = errors.New("quote hand-off inconsistent")
)

// Message renders a distinct user facing message for every error kind.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateLine):
		return "This treatment is already in your plan. Change its quantity instead."
	case errors.Is(err, ErrLineNotFound):
		return "This treatment is not in your plan."
	case errors.Is(err, ErrInvalidQuantity):
		return "Please choose a quantity of at least 1."
	case errors.Is(err, ErrPackageLocked):
		return "Your plan follows a package. Remove the package to change treatments."
	case errors.Is(err, ErrSuperseded):
		return "Your plan changed while the code was being checked."
	case errors.Is(err, catalog.ErrNotFound):
		return "This treatment is no longer available."
	case errors.Is(err, ErrSessionNotFound):
		return "We could not find this quote."
	case errors.Is(err, ErrSnapshotUnavailable):
		return "Your saved quote could not be loaded right now. Please try again shortly."
	case errors.Is(err, ErrEmptyQuote):
		return "Add at least one treatment before submitting."
	case errors.Is(err, ErrInconsistentHandoff):
		return "Your quote needs to be reviewed again before it can be submitted."
	case errors.Is(err, promo.ErrInvalidCode), errors.Is(err, promo.ErrResolverUnavailable):
		return promo.Message(err)
	default:
		return "Something went wrong while updating your quote."
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateLine):
		return "duplicate_line"
	case errors.Is(err, ErrLineNotFound):
		return "line_not_found"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrPackageLocked):
		return "package_locked"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, promo.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, promo.ErrResolverUnavailable):
		return "resolver_unavailable"
	default:
		return "error"
	}
}
