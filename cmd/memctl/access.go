package main

import (
	"fmt"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/process"
	"github.com/joshuapare/memkit/mem/virtual"
)

// session wraps the regions under one read or write request.
type session struct {
	h  process.Handle
	va *virtual.VirtualAllocator
}

func openSession(pid string) (*session, error) {
	h, err := openProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	return &session{h: h, va: virtual.New(h, virtual.WithAllocatorOptions(allocOptions()...))}, nil
}

func (s *session) Close() error {
	err := s.va.Close()
	if cerr := s.h.Close(); err == nil {
		err = cerr
	}
	return err
}

// cover wraps every region touched by [address, address+size) so the
// allocator can split the request across them.
func (s *session) cover(address, size uint64) (addr.Address, error) {
	start := addr.New(s.h.Space(), address)
	end := address + size
	for at := address; at < end; {
		p, err := s.va.PageOf(addr.New(s.h.Space(), at))
		if err != nil {
			return addr.Null(), fmt.Errorf("0x%x: %w", at, err)
		}
		at = p.Start().Value() + p.Size()
	}
	return start, nil
}

func (s *session) read(address, size uint64) ([]byte, error) {
	start, err := s.cover(address, size)
	if err != nil {
		return nil, err
	}
	return s.va.Read(start, size)
}

func (s *session) write(address uint64, data []byte) error {
	start, err := s.cover(address, uint64(len(data)))
	if err != nil {
		return err
	}
	return s.va.Write(start, data)
}
