package odb

import "runtime"

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// goroutineID parses the current goroutine's id out of its runtime stack
// header ("goroutine N [...]"). Only consulted while a write transaction is
// open, to tell the writing goroutine's reads apart from concurrent readers.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
