package repurchase

import "fmt"

// Milestone is a follow-up window after a recorded purchase, counted in
// whole calendar days.
type Milestone int

const (
	Day1 Milestone = 1
	Day2 Milestone = 2
	Day3 Milestone = 3
	Day7 Milestone = 7
)

// Milestones lists every follow-up window in firing order.
var Milestones = []Milestone{Day1, Day2, Day3, Day7}

// Days returns the calendar-day offset of the milestone.
func (m Milestone) Days() int { return int(m) }

// Key returns the ledger suffix for the milestone, e.g. "day1".
func (m Milestone) Key() string { return fmt.Sprintf("day%d", int(m)) }

func (m Milestone) String() string { return m.Key() }

// MilestoneForDays maps an elapsed-day count to its milestone. Only exact
// matches fire; a scan that lands between windows (or past day 7) does not
// fire retroactively.
func MilestoneForDays(days int) (Milestone, bool) {
	switch days {
	case 1:
		return Day1, true
	case 2:
		return Day2, true
	case 3:
		return Day3, true
	case 7:
		return Day7, true
	}
	return 0, false
}
