package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category sorts a failed submission into a handling strategy.
type Category string

const (
	// CategoryTransient failures are retried automatically with backoff.
	CategoryTransient Category = "transient"
	// CategoryPermanent failures abort the chain immediately.
	CategoryPermanent Category = "permanent"
	// CategoryUserAction pauses the chain until an explicit decision:
	// an empty-but-valid transcript may be true silence or a recoverable
	// capture problem, and guessing either way silently loses data.
	CategoryUserAction Category = "user_action"
	// CategoryUnknown failures are retried like transient ones but
	// logged for later diagnosis.
	CategoryUnknown Category = "unknown"
)

// Retryable reports whether the category participates in automatic retry.
func (c Category) Retryable() bool {
	return c == CategoryTransient || c == CategoryUnknown
}

// ClassifiedError is a submission failure tagged with its category and a
// terse user-facing message. The underlying error is kept verbatim.
type ClassifiedError struct {
	Category Category
	Message  string
	Err      error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// HTTPError is raised by providers for any non-200 response, carrying
// the raw status and body so classification stays a pure function of them.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// ErrMalformedResponse marks a 200 response whose body failed to decode.
var ErrMalformedResponse = errors.New("malformed provider response")

// ErrEmptyTranscript marks a structurally valid response with no speech.
var ErrEmptyTranscript = errors.New("empty transcript")

// Classify maps a submission error onto the taxonomy. Deterministic and
// free of hidden state: the same error always yields the same category.
//
//	5xx, 429, network/timeout, malformed body -> transient
//	remaining 4xx                             -> permanent
//	valid but empty transcript                -> user_action
//	anything else                             -> unknown
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500, httpErr.StatusCode == http.StatusTooManyRequests:
			return &ClassifiedError{
				Category: CategoryTransient,
				Message:  fmt.Sprintf("transcription service unavailable (status %d)", httpErr.StatusCode),
				Err:      err,
			}
		case httpErr.StatusCode >= 400:
			return &ClassifiedError{
				Category: CategoryPermanent,
				Message:  fmt.Sprintf("transcription request rejected (status %d)", httpErr.StatusCode),
				Err:      err,
			}
		}
	}

	if errors.Is(err, ErrEmptyTranscript) {
		return &ClassifiedError{
			Category: CategoryUserAction,
			Message:  "the service returned no speech; the recording may be silent",
			Err:      err,
		}
	}

	if errors.Is(err, ErrMalformedResponse) {
		return &ClassifiedError{
			Category: CategoryTransient,
			Message:  "transcription service returned an unreadable response",
			Err:      err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClassifiedError{
			Category: CategoryTransient,
			Message:  "transcription request timed out",
			Err:      err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{
			Category: CategoryTransient,
			Message:  "transcription request timed out",
			Err:      err,
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ClassifiedError{
			Category: CategoryTransient,
			Message:  "could not reach the transcription service",
			Err:      err,
		}
	}

	return &ClassifiedError{
		Category: CategoryUnknown,
		Message:  "transcription failed unexpectedly",
		Err:      err,
	}
}

// permanent builds a pre-network validation failure; these never retry.
func permanent(msg string) *ClassifiedError {
	return &ClassifiedError{Category: CategoryPermanent, Message: msg}
}
