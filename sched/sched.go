// Package sched implements a pluggable next-task picker over a shared run
// queue: Round-Robin, static Priority, CFS, and four real-time families
// (EDF, RM, AEDF, LLF) that fall back to CFS when no periodic task is due.
package sched

import "fmt"

// State is a task's scheduling state. Only TaskRunning is ever eligible to
// be picked; every other value models blocked, sleeping, or zombie tasks
// and is the caller's concern, not the picker's.
type State int

const (
	TaskBlocked State = iota
	TaskRunning
)

// NICE0Load is the vruntime weight of a task at the default (nice 0)
// priority; weights above or below it scale vruntime accrual accordingly.
const NICE0Load = 1024

// defaultWeights mirrors the Linux CFS nice-to-weight table: entry i is
// the weight for static priority i, clamped into [0,39].
var defaultWeights = [40]uint32{
	/* -20 */ 88761, 71755, 56483, 46273, 36291,
	29154, 23254, 18705, 14949, 11916,
	/* -10 */ 9548, 7620, 6100, 4904, 3906,
	3121, 2501, 1991, 1586, 1277,
	/*   0 */ 1024, 820, 655, 526, 423,
	335, 272, 215, 172, 137,
	/*  10 */ 110, 87, 70, 56, 45,
	36, 29, 23, 18, 15,
}

func defaultWeightOf(prio int) uint32 {
	if prio < 0 {
		prio = 0
	}
	if prio >= len(defaultWeights) {
		prio = len(defaultWeights) - 1
	}
	return defaultWeights[prio]
}

// SchedEntity holds the scheduling-relevant fields of a Task: static
// priority, CFS vruntime accounting, and the periodic-task bookkeeping
// consumed by EDF/RM/AEDF/LLF.
type SchedEntity struct {
	Prio int

	VRuntime       uint64
	ExecStart      uint32
	ExecRuntime    uint32
	SumExecRuntime uint64

	IsPeriodic      bool
	IsUnderAnalysis bool

	Period     uint32
	Deadline   uint32
	NextPeriod uint32
	Executed   bool
}

// Task is one schedulable entity.
type Task struct {
	Name  string
	State State
	SE    SchedEntity
}

// RunQueue is the shared pool of tasks the picker selects from. Curr is
// the index of the currently running task, or -1 if none. Membership
// (append/remove) is managed by the caller's enqueue/dequeue paths; the
// picker only reads Tasks and rotates Curr.
type RunQueue struct {
	Tasks []*Task
	Curr  int
}

// CurrentTask returns the task at Curr, or nil if none is set.
func (rq *RunQueue) CurrentTask() *Task {
	if rq.Curr < 0 || rq.Curr >= len(rq.Tasks) {
		return nil
	}
	return rq.Tasks[rq.Curr]
}

// setCurrent updates Curr to point at task, used after PickNext selects
// a new task so the next RR/Priority scan starts from the right place.
func (rq *RunQueue) setCurrent(task *Task) {
	for i, t := range rq.Tasks {
		if t == task {
			rq.Curr = i
			return
		}
	}
}

// Policy selects which picker algorithm a Scheduler dispatches to. Exactly
// one is active per Scheduler instance.
type Policy int

const (
	PolicyRR Policy = iota
	PolicyPriority
	PolicyCFS
	PolicyEDF
	PolicyRM
	PolicyAEDF
	PolicyLLF
)

func (p Policy) String() string {
	switch p {
	case PolicyRR:
		return "RR"
	case PolicyPriority:
		return "Priority"
	case PolicyCFS:
		return "CFS"
	case PolicyEDF:
		return "EDF"
	case PolicyRM:
		return "RM"
	case PolicyAEDF:
		return "AEDF"
	case PolicyLLF:
		return "LLF"
	default:
		return "unknown"
	}
}

func (p Policy) valid() bool {
	return p >= PolicyRR && p <= PolicyLLF
}

// isRealTime reports whether p is one of the non-RR, non-Priority policies
// that maintain per-task execution statistics (§4.2.8) and may fall back
// to CFS when no periodic task is due.
func (p Policy) isRealTime() bool {
	switch p {
	case PolicyCFS, PolicyEDF, PolicyRM, PolicyAEDF, PolicyLLF:
		return true
	default:
		return false
	}
}

// Clock provides the monotonic tick count the picker uses for period
// rollover and execution-time accounting. Supplied by the caller; the
// tick timer source itself is out of scope for this package.
type Clock interface {
	Ticks() uint32
}

// ProfilingTimer is the external per-process profiling hook invoked once
// per statistics update, mirroring the kernel's own profiling timer.
type ProfilingTimer interface {
	Update(task *Task)
}

// Option configures a Scheduler beyond its required policy and clock.
type Option struct {
	// Timer is invoked during the statistics update every real-time
	// policy performs before picking. Optional; nil disables the hook.
	Timer ProfilingTimer

	// WeightOf returns the CFS vruntime weight for a static priority.
	// Optional; defaults to the standard nice-to-weight table.
	WeightOf func(prio int) uint32
}

// DefaultOption returns an Option with no profiling hook and the standard
// weight table.
func DefaultOption() *Option {
	return &Option{}
}

// Scheduler dispatches PickNext to one fixed Policy. It is not safe for
// concurrent use: callers serialise access around each call exactly as
// they would around any other context-switch path.
type Scheduler struct {
	policy   Policy
	clock    Clock
	timer    ProfilingTimer
	weightOf func(prio int) uint32
}

// NewScheduler constructs a Scheduler for the given policy. This is the
// Go analogue of the build-time "exactly one SCHEDULER_* must be
// selected" requirement: there is no conditional-compilation equivalent,
// so an invalid policy fails the constructor instead of the build.
func NewScheduler(policy Policy, clock Clock, o *Option) (*Scheduler, error) {
	if !policy.valid() {
		return nil, fmt.Errorf("sched: invalid policy %d", int(policy))
	}
	if clock == nil {
		return nil, fmt.Errorf("sched: clock must not be nil")
	}
	if o == nil {
		o = DefaultOption()
	}
	weightOf := o.WeightOf
	if weightOf == nil {
		weightOf = defaultWeightOf
	}
	return &Scheduler{policy: policy, clock: clock, timer: o.Timer, weightOf: weightOf}, nil
}

// Policy returns the scheduler's active policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// PickNext selects the next task to run from rq, updates its exec_start,
// and returns it. Panics if no runnable task exists: keeping an idle task
// runnable is the caller's responsibility, not the picker's.
func (s *Scheduler) PickNext(rq *RunQueue) *Task {
	if s.policy.isRealTime() {
		if curr := rq.CurrentTask(); curr != nil {
			s.updateStatistics(curr)
		}
	}

	var next *Task
	switch s.policy {
	case PolicyRR:
		next = s.pickRR(rq)
	case PolicyPriority:
		next = s.pickPriority(rq)
	case PolicyCFS:
		next = s.pickCFS(rq, false)
	case PolicyEDF:
		next = s.pickEDF(rq)
	case PolicyRM:
		next = s.pickRM(rq)
	case PolicyAEDF:
		next = s.pickAEDF(rq)
	case PolicyLLF:
		next = s.pickLLF(rq)
	}

	if next == nil {
		panic("sched: no runnable task")
	}

	next.SE.ExecStart = s.clock.Ticks()
	rq.setCurrent(next)
	return next
}

// updateStatistics implements §4.2.8: account curr's execution slice,
// notify the profiling timer, and, for aperiodic tasks, accrue CFS
// vruntime weighted by static priority. The weighted slice is rounded up,
// so any nonzero slice advances vruntime even for the heaviest weights.
func (s *Scheduler) updateStatistics(curr *Task) {
	se := &curr.SE
	now := s.clock.Ticks()
	se.ExecRuntime = now - se.ExecStart

	if s.timer != nil {
		s.timer.Update(curr)
	}

	se.SumExecRuntime += uint64(se.ExecRuntime)

	if !se.IsPeriodic {
		weight := s.weightOf(se.Prio)
		runtime := se.ExecRuntime
		if weight != NICE0Load {
			runtime = uint32((uint64(runtime)*uint64(NICE0Load) + uint64(weight) - 1) / uint64(weight))
		}
		se.VRuntime += uint64(runtime)
	}
}
