package markov

// ModelStats summarizes the shape of a trained model.
type ModelStats struct {
	StartSymbols  int `json:"start_symbols"`  // The number of letters a word can start with.
	InteriorLinks int `json:"interior_links"` // The number of nonzero interior transitions.
	FinalLinks    int `json:"final_links"`    // The number of nonzero final transitions.
	DeadInterior  int `json:"dead_interior"`  // Interior rows with no outgoing transition.
	DeadFinal     int `json:"dead_final"`     // Final rows with no outgoing transition.
}

// Stats returns a snapshot of statistics for m.
func (m *Model) Stats() ModelStats {
	s := ModelStats{StartSymbols: m.Start.Support()}
	for i := range m.Interior {
		n := m.Interior[i].Support()
		s.InteriorLinks += n
		if n == 0 {
			s.DeadInterior++
		}
	}
	for i := range m.Final {
		n := m.Final[i].Support()
		s.FinalLinks += n
		if n == 0 {
			s.DeadFinal++
		}
	}
	return s
}
