package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors joins non-nil errors into one, used on close and config validation paths.
func FoldErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
		}
	}
	if len(ss) == 0 {
		return nil
	}
	if len(ss) == 1 {
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
	}
	return errors.New(strings.Join(ss, "\n"))
}

// CloseAll calls every closer, even after failures, and folds errors.
func CloseAll(fs ...func() error) error {
	errs := make([]error, 0, len(fs))
	for _, f := range fs {
		if f == nil {
			continue
		}
		errs = append(errs, f())
	}
	return FoldErrors(errs)
}
