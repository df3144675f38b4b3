package sim

// profile holds the raw profiling counters, allocated on first use.
type profile struct {
	exe          [maxRAM]uint64 // Cycles spent executing at each address.
	branch       [maxRAM]uint64 // Times the branch at each address was taken.
	branchSkip   uint64
	branchTaken  uint64
	branchExtra  uint64 // Extra cycles for branches to another page.
	absXExtra    uint64 // Extra cycles for ABS,X reads crossing a page.
	absYExtra    uint64 // Extra cycles for ABS,Y reads crossing a page.
	indYExtra    uint64 // Extra cycles for (),Y reads crossing a page.
	instructions uint64
}

// ProfileTotals are the scalar profiling counters.
type ProfileTotals struct {
	Cycles       uint64
	Instructions uint64
	ExtraIndY    uint64
	ExtraAbsX    uint64
	ExtraAbsY    uint64
	BranchSkip   uint64
	BranchTaken  uint64
	BranchExtra  uint64
}

// Profile is a consolidated snapshot of the profiling state. The slices
// alias the live counters and index the full address space.
type Profile struct {
	// ExeCount holds the cycles spent executing instructions at each
	// address, 0 to 65535.
	ExeCount []uint64
	// BranchTaken holds the count of taken branches at each address.
	BranchTaken []uint64
	Total       ProfileTotals
}

// SetProfiling enables or disables instruction profiling. Counters are
// allocated on first enable and survive a disable.
func (s *Sim) SetProfiling(on bool) {
	s.doProf = on
	if on && s.prof == nil {
		s.prof = &profile{}
	}
}

// GetProfile returns the profiling snapshot.
func (s *Sim) GetProfile() Profile {
	if s.prof == nil {
		s.prof = &profile{}
	}
	return Profile{
		ExeCount:    s.prof.exe[:],
		BranchTaken: s.prof.branch[:],
		Total: ProfileTotals{
			Cycles:       s.cycles,
			Instructions: s.prof.instructions,
			ExtraIndY:    s.prof.indYExtra,
			ExtraAbsX:    s.prof.absXExtra,
			ExtraAbsY:    s.prof.absYExtra,
			BranchSkip:   s.prof.branchSkip,
			BranchTaken:  s.prof.branchTaken,
			BranchExtra:  s.prof.branchExtra,
		},
	}
}
