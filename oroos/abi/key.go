package abi

// Key packs an ASCII tag of at most 8 bytes into a u64, big-endian, in the
// low bits: Key("id") == 0x6964.
//
// Keys name syscall indices, keys and interface-specific error codes. Tags
// longer than 8 bytes are a programmer error and panic.
func Key(tag string) uint64 {
	if len(tag) > 8 {
		panic("abi: key too long (must be <= 8 bytes): " + tag)
	}
	var k uint64
	for i := 0; i < len(tag); i++ {
		k = k<<8 | uint64(tag[i])
	}
	return k
}

// KeyString unpacks a key produced by Key. Non-printable bytes are rendered
// as '?'.
func KeyString(k uint64) string {
	var buf [8]byte
	n := 0
	started := false
	for shift := 56; shift >= 0; shift -= 8 {
		b := byte(k >> uint(shift))
		if b == 0 && !started {
			continue
		}
		started = true
		if b < 0x20 || b > 0x7e {
			b = '?'
		}
		buf[n] = b
		n++
	}
	return string(buf[:n])
}
