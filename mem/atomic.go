package mem

import "sync/atomic"

func loadRef(p *int32) int32 {
	return atomic.LoadInt32(p)
}

func addRef(p *int32, delta int32) int32 {
	return atomic.AddInt32(p, delta)
}
