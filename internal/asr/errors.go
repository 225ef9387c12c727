package asr

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Recognition errors. ErrNoSpeech is recoverable and silent; ErrNotAllowed
// and ErrNetwork end the turn with a notice.
var (
	ErrNoSpeech   = errors.New("no speech detected")
	ErrNotAllowed = errors.New("microphone or recognition not allowed")
	ErrNetwork    = errors.New("recognition network error")
	ErrAborted    = errors.New("recognition aborted")
)

// Kind classifies err for metrics and retry policy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, ErrNotAllowed):
		return "not_allowed"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return "aborted"
	default:
		return "other"
	}
}

// Retryable reports whether a continuous conversation should silently listen
// again after err.
func Retryable(err error) bool {
	switch Kind(err) {
	case "no_speech", "other":
		return true
	}
	return false
}

// classify maps transport errors from the transcribers onto the taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoSpeech) || errors.Is(err, ErrNotAllowed) || errors.Is(err, ErrNetwork) {
		return err
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.PermissionDenied, codes.Unauthenticated:
			return errors.Join(ErrNotAllowed, err)
		case codes.Unavailable, codes.DeadlineExceeded:
			return errors.Join(ErrNetwork, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(ErrNetwork, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrNetwork, err)
	}
	return err
}
