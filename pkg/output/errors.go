// ABOUTME: Error types for the output server
// ABOUTME: BindError and EncoderInitError per the open-time error contract

package output

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned by Play when the output has not been opened.
var ErrNotOpen = errors.New("output not open")

// BindError reports a failure to acquire the listen address. The output
// remains in the pre-Open state.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// EncoderInitError reports that the configured encoder rejected the
// stream format at Open time. The output remains in the pre-Open state.
type EncoderInitError struct {
	Codec string
	Err   error
}

func (e *EncoderInitError) Error() string {
	return fmt.Sprintf("init %s encoder: %v", e.Codec, e.Err)
}

func (e *EncoderInitError) Unwrap() error {
	return e.Err
}
