package timing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aiperf/aiperf-go/pkg/config"
	"github.com/aiperf/aiperf-go/pkg/model"
)

// FixedSchedule replays the dataset's per-turn timestamps, optionally
// offsetting so the first entry lands at t=0 (spec.md §4.4 strategy 1).
type FixedSchedule struct {
	profile  config.LoadProfile
	src      ScheduleSource
	entries  []ScheduleEntry
	runStart int64
}

// NewFixedSchedule builds the fixed-schedule strategy.
func NewFixedSchedule(profile config.LoadProfile, src ScheduleSource) *FixedSchedule {
	return &FixedSchedule{profile: profile, src: src}
}

func (f *FixedSchedule) Prepare(phase model.CreditPhase) (PrepareResult, error) {
	all, err := f.src.TimingSchedule()
	if err != nil {
		return PrepareResult{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TimestampNS < all[j].TimestampNS })

	start, end := int64(0), int64(len(all))
	if f.profile.StartOffset != nil {
		start = *f.profile.StartOffset
	}
	if f.profile.EndOffset != nil {
		end = *f.profile.EndOffset
	}
	if start > end {
		return PrepareResult{}, fmt.Errorf("timing: configuration invalid: fixed_schedule start_offset (%d) > end_offset (%d)", start, end)
	}
	if start < 0 {
		start = 0
	}
	if end > int64(len(all)) {
		end = int64(len(all))
	}
	f.entries = all[start:end]

	n := len(f.entries)
	return PrepareResult{TotalExpectedRequests: &n}, nil
}

func (f *FixedSchedule) Run(ctx context.Context, phase model.CreditPhase, cm *CreditManager) error {
	if len(f.entries) == 0 {
		return nil
	}
	base := f.entries[0].TimestampNS
	if !f.profile.AutoOffset {
		base = 0
	}
	f.runStart = time.Now().UnixNano()

	for i, e := range f.entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		dropNS := f.runStart + (e.TimestampNS - base)
		convID := e.ConversationID
		credit := model.Credit{
			CreditPhase:    phase,
			CreditNum:      int64(i),
			ConversationID: &convID,
			CreditDropNS:   &dropNS,
		}
		if err := cm.DropCredit(credit); err != nil {
			return err
		}
	}
	return nil
}

func (f *FixedSchedule) OnCompletion(model.CreditPhase) {}
