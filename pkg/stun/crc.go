package stun

import "hash/crc32"

var crcTable = crc32.MakeTable(crc32.IEEE)

func crc32Checksum(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}
