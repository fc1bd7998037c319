// Package weeks derives the four 7-day analysis windows from an end date.
package weeks

import (
	"fmt"
	"time"

	"varianthunter/pkg/domain"
)

// DateLayout is the wire format of query dates.
const DateLayout = "2006-01-02"

const labelLayout = "2006/01/02"

// Reference is day zero for the day offsets used by the dataset.
var Reference = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Window is a half-open day-offset interval (Begin, End] relative to Reference.
type Window struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Parse reads a YYYY-MM-DD date in UTC.
func Parse(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return t, nil
}

// Labels returns the display label of each window ending at endDate. The
// newest window (W4) covers endDate and the six days before it.
func Labels(endDate string) (domain.WeekLabels, error) {
	end, err := Parse(endDate)
	if err != nil {
		return domain.WeekLabels{}, err
	}
	label := func(weeksBack int) string {
		last := end.AddDate(0, 0, -7*weeksBack)
		first := last.AddDate(0, 0, -6)
		return first.Format(labelLayout) + " - " + last.Format(labelLayout)
	}
	return domain.WeekLabels{
		W1: label(3),
		W2: label(2),
		W3: label(1),
		W4: label(0),
	}, nil
}

// DiffFromDate returns the number of days between Reference and date.
func DiffFromDate(date string) (int, error) {
	t, err := Parse(date)
	if err != nil {
		return 0, err
	}
	return int(t.Sub(Reference).Hours() / 24), nil
}

// DateFromDiff returns the date lying diff days after Reference.
func DateFromDiff(diff int) time.Time {
	return Reference.AddDate(0, 0, diff)
}

// Windows returns the day-offset windows W1..W4 ending at endDate.
func Windows(endDate string) ([4]Window, error) {
	end, err := DiffFromDate(endDate)
	if err != nil {
		return [4]Window{}, err
	}
	var out [4]Window
	for i := 3; i >= 0; i-- {
		out[i] = Window{Begin: end - 7, End: end}
		end -= 7
	}
	return out, nil
}
