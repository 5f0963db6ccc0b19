package aggregator

import "time"

// Timeframe is the length of a billing period.
type Timeframe int

const (
	Hourly Timeframe = iota
	Daily
	Monthly
)

func (tf Timeframe) String() string {
	switch tf {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Monthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// Period is a billing window (Start, End]. Consecutive periods share their
// boundary, the reading at or before Start is the opening value.
type Period struct {
	Timeframe Timeframe
	Start     time.Time
	End       time.Time
}

// roundToHourStart returns the start of the hour for the given time
func roundToHourStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

// roundToDayStart returns the start of the day for the given time
func roundToDayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// roundToMonthStart returns the start of the month for the given time
func roundToMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodContaining returns the period of the given timeframe whose start is
// the last boundary at or before t. End is the next period's start.
func PeriodContaining(tf Timeframe, t time.Time) Period {
	var start, next time.Time
	switch tf {
	case Daily:
		start = roundToDayStart(t)
		next = start.AddDate(0, 0, 1)
	case Monthly:
		start = roundToMonthStart(t)
		next = start.AddDate(0, 1, 0)
	default:
		start = roundToHourStart(t)
		next = start.Add(time.Hour)
	}
	return Period{Timeframe: tf, Start: start, End: next}
}

// PreviousPeriod returns the last complete period before now.
func PreviousPeriod(tf Timeframe, now time.Time) Period {
	current := PeriodContaining(tf, now)
	return PeriodContaining(tf, current.Start.Add(-time.Nanosecond))
}

// DuePeriods lists the periods that closed at now: always the previous hour,
// the previous day at midnight and the previous month on the first.
func DuePeriods(now time.Time) []Period {
	now = now.UTC()
	periods := []Period{PreviousPeriod(Hourly, now)}
	if now.Hour() == 0 {
		periods = append(periods, PreviousPeriod(Daily, now))
		if now.Day() == 1 {
			periods = append(periods, PreviousPeriod(Monthly, now))
		}
	}
	return periods
}
