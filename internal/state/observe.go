package state

// OnGoals registers fn for goals replacements. The returned function
// removes it.
func (s *Store) OnGoals(fn func(GoalsChanged)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.goalsObs[id] = fn
	return func() { s.remove(func() { delete(s.goalsObs, id) }) }
}

// OnExposures registers fn for exposures replacements.
func (s *Store) OnExposures(fn func(ExposuresChanged)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.expObs[id] = fn
	return func() { s.remove(func() { delete(s.expObs, id) }) }
}

// OnSummaries registers fn for summaries replacements.
func (s *Store) OnSummaries(fn func(SummariesChanged)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.sumObs[id] = fn
	return func() { s.remove(func() { delete(s.sumObs, id) }) }
}

// OnReminder registers fn for weekly-reminder visibility flips.
func (s *Store) OnReminder(fn func(ReminderChanged)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.remindObs[id] = fn
	return func() { s.remove(func() { delete(s.remindObs, id) }) }
}

func (s *Store) remove(del func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	del()
}

// Observer snapshots are taken so callbacks run without obsMu held and may
// register or remove observers themselves.

func (s *Store) goalsObservers() []func(GoalsChanged) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]func(GoalsChanged), 0, len(s.goalsObs))
	for _, fn := range s.goalsObs {
		out = append(out, fn)
	}
	return out
}

func (s *Store) exposureObservers() []func(ExposuresChanged) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]func(ExposuresChanged), 0, len(s.expObs))
	for _, fn := range s.expObs {
		out = append(out, fn)
	}
	return out
}

func (s *Store) summaryObservers() []func(SummariesChanged) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]func(SummariesChanged), 0, len(s.sumObs))
	for _, fn := range s.sumObs {
		out = append(out, fn)
	}
	return out
}

func (s *Store) reminderObservers() []func(ReminderChanged) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]func(ReminderChanged), 0, len(s.remindObs))
	for _, fn := range s.remindObs {
		out = append(out, fn)
	}
	return out
}
