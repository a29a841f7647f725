package link

import "fmt"

var (
	ErrChecksumMismatch  = fmt.Errorf("frame checksum mismatch")
	ErrFrameInvalid      = fmt.Errorf("frame is invalid")
	ErrFrameLenOverflow  = fmt.Errorf("frame is too large")
	ErrDeliveryAbandoned = fmt.Errorf("delivery abandoned")
	ErrSeqNotIncreasing  = fmt.Errorf("seq must increase")
)
