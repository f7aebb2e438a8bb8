package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prl900/bandstack/region"
)

var (
	ErrEmptySelection     = errors.New("empty selection")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrCatalogTimeout     = errors.New("catalog timeout")
	ErrUnknownBand        = errors.New("unknown band")
	ErrUnknownCatalog     = errors.New("unknown catalog")
)

// EmptySelectionError means the filtered collection of one source holds no
// scene. Retrying the same query is pointless; relax the filters or widen
// the date range instead.
type EmptySelectionError struct {
	Source    string
	CatalogID string
	Dates     region.DateRange
	Static    bool
	Filters   []string
}

func (e *EmptySelectionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: source %s (%s) returned no scenes", ErrEmptySelection, e.Source, e.CatalogID)
	if !e.Static {
		fmt.Fprintf(&b, " for %s", e.Dates)
	}
	if len(e.Filters) > 0 {
		fmt.Fprintf(&b, " with filters [%s]", strings.Join(e.Filters, ", "))
	}
	return b.String()
}

func (e *EmptySelectionError) Unwrap() error { return ErrEmptySelection }

// CatalogUnavailableError is a transient transport or auth failure. The
// selector retries it with backoff.
type CatalogUnavailableError struct {
	CatalogID string
	Attempts  int
	Cause     error
}

func (e *CatalogUnavailableError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrCatalogUnavailable, e.CatalogID)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CatalogUnavailableError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCatalogUnavailable}
	}
	return []error{ErrCatalogUnavailable, e.Cause}
}

// CatalogTimeoutError is a catalog call that exceeded its per-attempt
// deadline. It is distinct from both an empty result and a caller abort.
type CatalogTimeoutError struct {
	CatalogID string
	Timeout   time.Duration
	Attempts  int
}

func (e *CatalogTimeoutError) Error() string {
	msg := fmt.Sprintf("%s: %s did not answer within %s", ErrCatalogTimeout, e.CatalogID, e.Timeout)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" (%d attempts)", e.Attempts)
	}
	return msg
}

func (e *CatalogTimeoutError) Unwrap() error { return ErrCatalogTimeout }

// UnknownBandError names a requested band the catalog does not provide.
type UnknownBandError struct {
	CatalogID string
	Band      string
	Scene     string
}

func (e *UnknownBandError) Error() string {
	if e.Scene != "" {
		return fmt.Sprintf("%s: %s has no band %q in scene %s", ErrUnknownBand, e.CatalogID, e.Band, e.Scene)
	}
	return fmt.Sprintf("%s: %s has no band %q", ErrUnknownBand, e.CatalogID, e.Band)
}

func (e *UnknownBandError) Unwrap() error { return ErrUnknownBand }

func retryable(err error) bool {
	return errors.Is(err, ErrCatalogUnavailable) || errors.Is(err, ErrCatalogTimeout)
}
