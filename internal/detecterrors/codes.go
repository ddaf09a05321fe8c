// Package detecterrors implements a fixed taxonomy of
// error kinds with a propagation rule attached, instead of an HTTP
// status — the core has no HTTP surface of its own.
package detecterrors

// Kind is the category of a pipeline error. Propagation is decided by
// the caller, not by the error itself: this package only
// classifies.
type Kind string

const (
	KindInvalidAudio        Kind = "InvalidAudio"
	KindTooShort             Kind = "TooShort"
	KindStreamUnavailable    Kind = "StreamUnavailable"
	KindStreamDropped        Kind = "StreamDropped"
	KindProviderTransient    Kind = "ProviderTransient"
	KindProviderPermanent    Kind = "ProviderPermanent"
	KindDBConstraintConflict Kind = "DBConstraintConflict"
	KindDBUnavailable        Kind = "DBUnavailable"
	KindCancelled            Kind = "Cancelled"
)

// Recovered reports whether an error of this kind is absorbed at C9
// (the orchestrator loop) rather than bubbling to C11 (the supervisor).
func (k Kind) Recovered() bool {
	switch k {
	case KindInvalidAudio, KindTooShort, KindProviderTransient, KindProviderPermanent, KindDBConstraintConflict, KindCancelled:
		return true
	default:
		return false
	}
}
