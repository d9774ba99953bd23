package recovery

// Strategy decides how the parser reacts to malformed input. The zero
// strategy (nil) fails on the first error, which is what a verifier
// normally wants; repair-oriented callers install a lenient one.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

type Context interface{ Done() <-chan struct{} }

// Lenient skips or patches over every recoverable error. Used by the
// xref repair scan, where individual broken objects must not abort the
// whole reconstruction.
type Lenient struct{}

func (Lenient) OnError(Context, error, Location) Action { return ActionFix }
