package recovery

// Strategy decides how parsing proceeds after a structural error.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

// Location pinpoints where in the document an error was observed.
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
