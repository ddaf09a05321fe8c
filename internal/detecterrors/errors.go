package detecterrors

import "fmt"

// PipelineError is the error type every component in the detection
// pipeline returns. Scope names the component that raised it
// ("analyzer", "fingerprint", "recognize:acoustid", ...) so C10's
// error_raised event can carry it verbatim.
type PipelineError struct {
	Kind    Kind
	Scope   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Scope, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Scope, e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func New(scope string, kind Kind, message string) *PipelineError {
	return &PipelineError{Scope: scope, Kind: kind, Message: message}
}

func Wrap(scope string, kind Kind, message string, err error) *PipelineError {
	return &PipelineError{Scope: scope, Kind: kind, Message: message, Err: err}
}

func InvalidAudio(scope, message string) *PipelineError {
	return New(scope, KindInvalidAudio, message)
}

func TooShort(scope string, gotSamples, minSamples int) *PipelineError {
	return New(scope, KindTooShort, fmt.Sprintf("got %d samples, need at least %d", gotSamples, minSamples))
}

func StreamUnavailable(scope, message string, err error) *PipelineError {
	return Wrap(scope, KindStreamUnavailable, message, err)
}

func StreamDropped(scope, message string, err error) *PipelineError {
	return Wrap(scope, KindStreamDropped, message, err)
}

func ProviderTransient(scope, message string, err error) *PipelineError {
	return Wrap(scope, KindProviderTransient, message, err)
}

func ProviderPermanent(scope, message string, err error) *PipelineError {
	return Wrap(scope, KindProviderPermanent, message, err)
}

func DBConstraintConflict(scope, message string, err error) *PipelineError {
	return Wrap(scope, KindDBConstraintConflict, message, err)
}

func DBUnavailable(scope, message string, err error) *PipelineError {
	return Wrap(scope, KindDBUnavailable, message, err)
}

func Cancelled(scope string) *PipelineError {
	return New(scope, KindCancelled, "context cancelled")
}

// As reports whether err is a *PipelineError and returns it.
func As(err error) (*PipelineError, bool) {
	pe, ok := err.(*PipelineError)
	return pe, ok
}
