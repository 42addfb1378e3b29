package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-crawl-news/models"
)

var errEmptyBody = errors.New("malformed response: empty body")

// classifyError maps one attempt's outcome onto a failure kind. parent is the
// run context; a cancelled parent is never reported as a timeout.
func classifyError(parent context.Context, err error, statusCode int, bodyLen int) (models.FailureKind, error) {
	if err != nil {
		if parent != nil && errors.Is(parent.Err(), context.Canceled) {
			return models.FailureCanceled, err
		}
		if errors.Is(err, context.Canceled) {
			return models.FailureCanceled, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return models.FailureTimeout, err
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.FailureTimeout, err
		}
		return models.FailureNetwork, err
	}

	switch {
	case statusCode >= http.StatusInternalServerError:
		return models.FailureProxy, fmt.Errorf("proxy returned %d %s", statusCode, http.StatusText(statusCode))
	case statusCode >= http.StatusBadRequest:
		return models.FailureHTTP, fmt.Errorf("proxy returned %d %s", statusCode, http.StatusText(statusCode))
	case statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices:
		return models.FailureHTTP, fmt.Errorf("unexpected status %d", statusCode)
	case bodyLen == 0:
		return models.FailureHTTP, errEmptyBody
	}
	return "", nil
}

// errorTypeLabel refines a failure into the label recorded on the errors
// counter.
func errorTypeLabel(kind models.FailureKind, statusCode int) string {
	switch statusCode {
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if kind == "" {
		return "unknown"
	}
	return string(kind)
}
