package telephony

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/twitchtv/twirp"
)

// ErrRoomClosed is returned by room operations after the connection ended.
var ErrRoomClosed = errors.New("telephony: room connection closed")

// ProviderError is a failed platform call with whatever diagnostics the
// provider returned (SIP status, reason phrase).
type ProviderError struct {
	Op      string
	Code    string
	Message string
	Meta    map[string]string
	Err     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "telephony: %s failed", e.Op)
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Meta) > 0 {
		keys := make([]string, 0, len(e.Meta))
		for k := range e.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Meta[k])
		}
		b.WriteString("]")
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Timeout reports whether the platform gave up waiting (no answer).
func (e *ProviderError) Timeout() bool {
	return e.Code == string(twirp.DeadlineExceeded)
}

// wrapProviderError turns a twirp error into a ProviderError, keeping its
// metadata. Non-twirp errors are wrapped with just the op name.
func wrapProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	pe := &ProviderError{Op: op, Err: err}
	var twerr twirp.Error
	if errors.As(err, &twerr) {
		pe.Code = string(twerr.Code())
		pe.Message = twerr.Msg()
		if m := twerr.MetaMap(); len(m) > 0 {
			pe.Meta = make(map[string]string, len(m))
			for k, v := range m {
				pe.Meta[k] = v
			}
		}
	} else {
		pe.Message = err.Error()
	}
	return pe
}

// ProviderMeta returns the provider metadata carried by err, if any.
func ProviderMeta(err error) map[string]string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Meta
	}
	return nil
}
