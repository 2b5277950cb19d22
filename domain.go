package nodert

import (
	"fmt"

	"github.com/dop251/goja"
)

// Domain is the error-handling scope entered before and exited after a
// payload runs. On an exception the exit call is skipped so the error
// handler observes the active domain.
type Domain interface {
	Enter() error
	Exit() error
	// IsDisposed reports whether the domain was disposed after the activity
	// was scheduled. A disposed domain is cleared for that run only.
	IsDisposed() bool
}

// jsDomain adapts a script-level domain object to the Domain capability.
// The enter/exit callables are resolved once at attach time; only the
// _disposed flag is re-read per run.
type jsDomain struct {
	obj   *goja.Object
	enter goja.Callable
	exit  goja.Callable
}

// NewJSDomain wraps a script domain object. The object must carry callable
// enter and exit properties.
func NewJSDomain(obj *goja.Object) (Domain, error) {
	if obj == nil {
		return nil, nil
	}
	enter := callableProp(obj, "enter")
	if enter == nil {
		return nil, fmt.Errorf("domain object has no enter function")
	}
	exit := callableProp(obj, "exit")
	if exit == nil {
		return nil, fmt.Errorf("domain object has no exit function")
	}
	return &jsDomain{obj: obj, enter: enter, exit: exit}, nil
}

func (d *jsDomain) Enter() error {
	_, err := d.enter(d.obj)
	return err
}

func (d *jsDomain) Exit() error {
	_, err := d.exit(d.obj)
	return err
}

func (d *jsDomain) IsDisposed() bool {
	v := d.obj.Get("_disposed")
	return v != nil && v.ToBoolean()
}
