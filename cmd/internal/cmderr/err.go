package cmderr

// Wrapper distinguishing router runtime errors from CLI parsing errors.
// Used to determine whether to print usage message on error.
type RouterErr struct {
	Err error
}

func (r RouterErr) Error() string {
	return r.Err.Error()
}

// github.com/pkg/errors causer interface
func (r RouterErr) Cause() error {
	return r.Err
}

// github.com/pkg/errors Unwrap interface
func (r RouterErr) Unwrap() error {
	return r.Err
}
