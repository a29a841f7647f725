// Package link delivers readings over lossy radio with application level ack.
//
// Sender transmits each reading as sequenced checksummed data frame and
// retransmits identical bytes until ack or attempt budget is exhausted.
// Receiver validates frames, suppresses duplicates with per sender window,
// hands novel readings downstream and acks only what was accepted.
//
// Frame, big endian:
//
//	magic uint16 = 0x5352 | kind byte | seq uint32 | crc16 uint16 | payload
//
// crc16 is CRC-16/CCITT-FALSE over magic, kind, seq and payload.
package link
