// Package crc implements CRC-16/CCITT-FALSE used by link frames.
// poly=0x1021 init=0xFFFF no reflection, xorout=0
package crc

const CRC_POLY_1021 uint16 = 0x1021
const CRC16_INIT uint16 = 0xffff

var table1021 [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		table1021[i] = CRC16_p1021_slow(0, byte(i))
	}
}

// CRC16_p1021_slow is bitwise variant, source of the table.
func CRC16_p1021_slow(crc uint16, data byte) uint16 {
	crc ^= uint16(data) << 8
	for i := 0; i < 8; i++ {
		if (crc & 0x8000) != 0 {
			crc = (crc << 1) ^ CRC_POLY_1021
		} else {
			crc <<= 1
		}
	}
	return crc
}

func CRC16_p1021(crc uint16, data byte) uint16 {
	return (crc << 8) ^ table1021[byte(crc>>8)^data]
}

// Update continues crc over b.
func Update(crc uint16, b []byte) uint16 {
	for _, x := range b {
		crc = CRC16_p1021(crc, x)
	}
	return crc
}

// CCITT computes CRC-16/CCITT-FALSE over all parts as one stream.
func CCITT(parts ...[]byte) uint16 {
	crc := CRC16_INIT
	for _, p := range parts {
		crc = Update(crc, p)
	}
	return crc
}
