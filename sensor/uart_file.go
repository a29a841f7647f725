//go:build linux

package sensor

import (
	"os"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

type fileUart struct {
	f  *os.File
	fd int
}

func NewFileUart() *fileUart { return &fileUart{fd: -1} }

func (self *fileUart) Open(path string, baud int) (err error) {
	speed, ok := baudRates[baud]
	if !ok {
		return errors.NotSupportedf("baud=%d", baud)
	}
	if self.f != nil {
		self.f.Close()
	}
	self.f, err = os.OpenFile(path, unix.O_RDWR|unix.O_NOCTTY, 0600)
	if err != nil {
		return errors.Trace(err)
	}
	self.fd = int(self.f.Fd())
	if err = io_reset_termios(self.fd, speed); err != nil {
		self.f.Close()
		self.f = nil
		self.fd = -1
		return errors.Trace(err)
	}
	return nil
}

func (self *fileUart) Flush() error {
	return os.NewSyscallError("TCFLSH", unix.IoctlSetInt(self.fd, unix.TCFLSH, unix.TCIFLUSH))
}

func (self *fileUart) ReadWait(p []byte, timeout time.Duration) (int, error) {
	if err := io_wait_read(self.fd, timeout); err != nil {
		return 0, err
	}
	n, err := unix.Read(self.fd, p)
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	return n, nil
}

func (self *fileUart) Close() error {
	if self.f == nil {
		return nil
	}
	err := self.f.Close()
	self.f = nil
	self.fd = -1
	return err
}

// 8N1 raw, no flow control, VMIN=1 VTIME=0
func io_reset_termios(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return os.NewSyscallError("TCGETS", err)
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	// flush input and output
	return os.NewSyscallError("TCSETSF", unix.IoctlSetTermios(fd, unix.TCSETSF, t))
}

func io_wait_read(fd int, wait time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	deadline := time.Now().Add(wait)
	for {
		ms := int(time.Until(deadline) / time.Millisecond)
		if ms <= 0 {
			return ErrTimeoutT("io_wait_read timeout")
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		if n > 0 {
			if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				return errors.Errorf("uart poll revents=%x", fds[0].Revents)
			}
			return nil
		}
	}
}
