//go:build !linux

package sensor

import (
	"time"

	"github.com/juju/errors"
)

type fileUart struct{}

func NewFileUart() *fileUart { return &fileUart{} }

func (self *fileUart) Open(path string, baud int) error {
	return errors.NotSupportedf("termios uart on this platform")
}
func (self *fileUart) Flush() error { return errors.NotSupportedf("uart") }
func (self *fileUart) ReadWait(p []byte, timeout time.Duration) (int, error) {
	return 0, errors.NotSupportedf("uart")
}
func (self *fileUart) Close() error { return nil }
