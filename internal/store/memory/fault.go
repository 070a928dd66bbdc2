package memory

// FaultStage simulates a connection failure at a given point of a commit.
type FaultStage int

const (
	FaultNone FaultStage = iota
	// FaultLoseCommit drops the staged writes and reports an unknown outcome.
	FaultLoseCommit
	// FaultTimeoutAfterCommit applies the writes but still reports an unknown
	// outcome, like a reply lost on the way back from the database.
	FaultTimeoutAfterCommit
)

// InjectFault queues a one-shot fault consumed by the next commit.
func (s *Store) InjectFault(stage FaultStage) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults = append(s.faults, stage)
}

// SetOffline makes every new unit of work fail before it begins.
func (s *Store) SetOffline(offline bool) {
	s.offline.Store(offline)
}

func (s *Store) takeFault() FaultStage {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if len(s.faults) == 0 {
		return FaultNone
	}
	stage := s.faults[0]
	s.faults = s.faults[1:]
	return stage
}
