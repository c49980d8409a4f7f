package shared

import (
	"fmt"
	"time"
)

// FiscalPeriod identifies the accounting bucket an entry belongs to.
type FiscalPeriod struct {
	Year   int
	Period int
}

// FiscalPeriodOf derives the calendar fiscal year and month of an event date.
func FiscalPeriodOf(date time.Time) FiscalPeriod {
	return FiscalPeriod{Year: date.Year(), Period: int(date.Month())}
}

// ValidatePeriod checks the year and period are within range.
func ValidatePeriod(year, period int) error {
	if year < 1900 || year > 9999 {
		return fmt.Errorf("%w: fiscal year %d", ErrInvalidInput, year)
	}
	if period < 1 || period > 12 {
		return fmt.Errorf("%w: fiscal period %d", ErrInvalidInput, period)
	}
	return nil
}

// YearEnd returns the closing date of a fiscal year.
func YearEnd(year int) time.Time {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}
