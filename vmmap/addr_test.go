package vmmap_test

import "unsafe"

func addrOf(p *int) uintptr {
	return uintptr(unsafe.Pointer(p))
}
