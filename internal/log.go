package internal

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logging is the minimal logger the module writes through. Bring your own
// implementation via SetLogger to route messages into an application logger.
type Logging interface {
	Printf(format string, v ...any)
}

type logger struct {
	log *log.Logger
}

func (l *logger) Printf(format string, v ...any) {
	_ = l.log.Output(2, fmt.Sprintf(format, v...))
}

// Nop discards every message. Handy for tests.
type Nop struct{}

func (Nop) Printf(string, ...any) {}

var l Logging = &logger{
	log: log.New(os.Stderr, "advlock: ", log.LstdFlags|log.Lshortfile),
}

func SetLogger(logger Logging) {
	l = logger
}

func GetLogger() Logging {
	return l
}

// NewStdLogger builds a Logging that writes to w with the module prefix.
func NewStdLogger(w io.Writer) Logging {
	return &logger{log: log.New(w, "advlock: ", log.LstdFlags|log.Lshortfile)}
}
