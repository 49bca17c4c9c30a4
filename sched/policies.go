package sched

// eligible reports whether t can be picked by a non-real-time scan.
// skipPeriodic excludes periodic tasks not currently under WCET analysis,
// used when a real-time policy falls back to CFS so periodic tasks are
// not double-counted against the aperiodic pool.
func eligible(t *Task, skipPeriodic bool) bool {
	if t.State != TaskRunning {
		return false
	}
	if skipPeriodic && t.SE.IsPeriodic && !t.SE.IsUnderAnalysis {
		return false
	}
	return true
}

// pickRR implements §4.2.1: starting just after curr, walk circularly and
// return the first RUNNING task. With a single linked task, return it if
// it is RUNNING rather than spin.
func (s *Scheduler) pickRR(rq *RunQueue) *Task {
	n := len(rq.Tasks)
	if n == 0 {
		return nil
	}
	if n == 1 {
		if eligible(rq.Tasks[0], false) {
			return rq.Tasks[0]
		}
		return nil
	}

	start := rq.Curr
	if start < 0 || start >= n {
		start = 0
	}
	for i := 1; i <= n; i++ {
		t := rq.Tasks[(start+i)%n]
		if eligible(t, false) {
			return t
		}
	}
	return nil
}

// pickPriority implements §4.2.2: the RUNNING task with smallest Prio.
// Ties use <=, so the last equal task visited wins.
func (s *Scheduler) pickPriority(rq *RunQueue) *Task {
	var best *Task
	for _, t := range rq.Tasks {
		if !eligible(t, false) {
			continue
		}
		if best == nil || t.SE.Prio <= best.SE.Prio {
			best = t
		}
	}
	return best
}

// pickCFS implements §4.2.3: the RUNNING task with smallest VRuntime.
// Ties use <, so the first equal task visited wins. Also serves as the
// real-time families' fallback, with skipPeriodic excluding periodic
// tasks from consideration.
func (s *Scheduler) pickCFS(rq *RunQueue, skipPeriodic bool) *Task {
	var best *Task
	for _, t := range rq.Tasks {
		if !eligible(t, skipPeriodic) {
			continue
		}
		if best == nil || t.SE.VRuntime < best.SE.VRuntime {
			best = t
		}
	}
	return best
}

// periodicCandidate applies the shared EDF/RM/LLF period-rollover rule:
// if se.Executed and its next period has arrived, clear Executed and roll
// both Deadline and NextPeriod forward by one period. The roll is a single
// step, not a catch-up loop: a task that oversleeps by more than one period
// is still behind now() afterwards. Returns whether se is now (or still) a
// viable candidate this tick.
func periodicCandidate(se *SchedEntity, now uint32) bool {
	if se.Executed {
		if se.NextPeriod > now {
			return false
		}
		se.Executed = false
		se.Deadline += se.Period
		se.NextPeriod += se.Period
	}
	return !se.Executed
}

// pickEDF implements §4.2.4: among periodic, non-analysis tasks due this
// tick, the smallest Deadline wins; ties use <=, so the last visited
// wins. Falls back to CFS (periodic tasks excluded) if none are due.
func (s *Scheduler) pickEDF(rq *RunQueue) *Task {
	now := s.clock.Ticks()
	var best *Task
	for _, t := range rq.Tasks {
		if t.State != TaskRunning || !t.SE.IsPeriodic || t.SE.IsUnderAnalysis {
			continue
		}
		if !periodicCandidate(&t.SE, now) {
			continue
		}
		if best == nil || t.SE.Deadline <= best.SE.Deadline {
			best = t
		}
	}
	if best == nil {
		return s.pickCFS(rq, true)
	}
	return best
}

// pickRM implements §4.2.5: identical to EDF, minimising NextPeriod
// instead of Deadline.
func (s *Scheduler) pickRM(rq *RunQueue) *Task {
	now := s.clock.Ticks()
	var best *Task
	for _, t := range rq.Tasks {
		if t.State != TaskRunning || !t.SE.IsPeriodic || t.SE.IsUnderAnalysis {
			continue
		}
		if !periodicCandidate(&t.SE, now) {
			continue
		}
		if best == nil || t.SE.NextPeriod <= best.SE.NextPeriod {
			best = t
		}
	}
	if best == nil {
		return s.pickCFS(rq, true)
	}
	return best
}

// pickAEDF implements §4.2.6: among all RUNNING tasks with a nonzero
// Deadline (no periodicity filtering, no rollover), the smallest wins;
// ties use <=, so the last visited wins.
func (s *Scheduler) pickAEDF(rq *RunQueue) *Task {
	var best *Task
	for _, t := range rq.Tasks {
		if t.State != TaskRunning || t.SE.Deadline == 0 {
			continue
		}
		if best == nil || t.SE.Deadline <= best.SE.Deadline {
			best = t
		}
	}
	if best == nil {
		return s.pickCFS(rq, true)
	}
	return best
}

// pickLLF implements §4.2.7: among periodic, non-analysis tasks due this
// tick, the smallest laxity wins. Laxity is signed (a task past its
// deadline has negative laxity) and ties use strict <, so the first
// visited wins.
func (s *Scheduler) pickLLF(rq *RunQueue) *Task {
	now := int64(s.clock.Ticks())
	var best *Task
	var bestLaxity int64
	for _, t := range rq.Tasks {
		if t.State != TaskRunning || !t.SE.IsPeriodic || t.SE.IsUnderAnalysis {
			continue
		}
		if !periodicCandidate(&t.SE, uint32(now)) {
			continue
		}
		laxity := (int64(t.SE.Deadline) - now) - int64(t.SE.SumExecRuntime)
		if best == nil || laxity < bestLaxity {
			best = t
			bestLaxity = laxity
		}
	}
	if best == nil {
		return s.pickCFS(rq, true)
	}
	return best
}
