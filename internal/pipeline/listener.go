package pipeline

import (
	"net"

	"github.com/SJJC-Team/whooshing-vapor/internal/logger"
	"github.com/SJJC-Team/whooshing-vapor/internal/registry"
	"github.com/SJJC-Team/whooshing-vapor/internal/transform"
)

// Listener wraps a net.Listener so that every accepted connection comes
// back as an opened pipeline Stage. Mounting an HTTP server on a Listener
// puts the transform stage under the codec with no further wiring.
type Listener struct {
	net.Listener

	reg *registry.Registry
	tr  transform.Transformer
	log *logger.Logger
}

// NewListener wraps inner. A nil transformer accepts pure-passthrough
// stages.
func NewListener(inner net.Listener, reg *registry.Registry, tr transform.Transformer, log *logger.Logger) *Listener {
	return &Listener{Listener: inner, reg: reg, tr: tr, log: log}
}

// Accept waits for the next connection and returns it wrapped in an active
// Stage. A connection whose open hook fails has already been answered and
// closed by the stage's failure path; Accept moves on to the next one.
func (l *Listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		st := NewStage(conn, l.reg, l.tr, l.log)
		if err := st.Open(); err != nil {
			continue
		}
		return st, nil
	}
}
