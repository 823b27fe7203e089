package bitlog

// Logger is a named logger registered with a frontend. Its id travels
// in every record header and resolves through the logger catalog on
// the backend side.
type Logger struct {
	name string
	id   uint32
}

// ID returns the dense logger id.
func (l *Logger) ID() uint32 { return l.id }

// Name returns the logger's registered name.
func (l *Logger) Name() string { return l.name }
