package core

import (
	"errors"
	"net"
	"reflect"

	"github.com/encodeous/flowsim/state"
)

func Get[T state.Module](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
