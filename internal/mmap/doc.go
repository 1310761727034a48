// Package mmap maps files read-only into memory.
//
// The local blob store uses it to hand checkpoint blobs to decoders without
// copying them through a read buffer.
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// On Unix the mapping uses mmap(2) and madvise(2); on Windows it uses
// CreateFileMapping and MapViewOfFile, and Advise is a no-op.
package mmap
