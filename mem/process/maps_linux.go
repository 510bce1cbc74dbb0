//go:build linux

package process

import (
	"sort"
	"strings"

	"github.com/prometheus/procfs"
)

// readMaps loads the mapped regions of pid from /proc/<pid>/maps.
func readMaps(pid int) ([]Region, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return nil, &Error{Op: "maps", PID: pid, Err: err}
	}
	maps, err := p.ProcMaps()
	if err != nil {
		return nil, &Error{Op: "maps", PID: pid, Err: err}
	}

	regions := make([]Region, 0, len(maps))
	for _, m := range maps {
		regions = append(regions, regionOf(m))
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })
	return regions, nil
}

func regionOf(m *procfs.ProcMap) Region {
	var prot Protection = ProtNoAccess
	shared := false
	if m.Perms != nil {
		prot = protectionOf(m.Perms.Read, m.Perms.Write, m.Perms.Execute)
		shared = m.Perms.Shared
	}

	anonymous := m.Pathname == "" || strings.HasPrefix(m.Pathname, "[")
	state := StateCommit
	if anonymous && prot == ProtNoAccess {
		state = StateReserve
	}
	typ := StatePrivate
	if shared || !anonymous {
		typ = StateMapped
	}

	r := Region{
		Base:              uint64(m.StartAddr),
		AllocationBase:    uint64(m.StartAddr),
		Size:              uint64(m.EndAddr - m.StartAddr),
		State:             state,
		Protect:           prot,
		AllocationProtect: prot,
		Type:              typ,
		Path:              m.Pathname,
	}
	return r
}

// lookup finds the region containing address in sorted regions. Addresses in
// a gap yield a StateFree region spanning the gap.
func lookup(regions []Region, address uint64) (Region, error) {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].End() > address })
	if i == len(regions) {
		return Region{}, ErrNotMapped
	}
	r := regions[i]
	if r.Contains(address) {
		return r, nil
	}

	var start uint64
	if i > 0 {
		start = regions[i-1].End()
	}
	return Region{
		Base:    start,
		Size:    r.Base - start,
		State:   StateFree,
		Protect: ProtNoAccess,
	}, nil
}

func queryMaps(pid int, address uint64) (Region, error) {
	regions, err := readMaps(pid)
	if err != nil {
		return Region{}, err
	}
	return lookup(regions, address)
}
