package scanning

import "time"

// Tally counts events by outcome.
type Tally struct {
	Open        int           `json:"open"`
	Refused     int           `json:"refused"`
	Timeout     int           `json:"timeout"`
	Unreachable int           `json:"unreachable"`
	Failed      int           `json:"failed"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Add counts one event.
func (t *Tally) Add(event Event) {
	if event.Failed() || event.Result == nil {
		t.Failed++
		return
	}

	switch event.Result.Status {
	case StatusOpen:
		t.Open++
	case StatusRefused:
		t.Refused++
	case StatusUnreachable:
		t.Unreachable++
	default:
		t.Timeout++
	}
}

// Count returns the number of results with the given status.
func (t Tally) Count(status ConnectionStatus) int {
	switch status {
	case StatusOpen:
		return t.Open
	case StatusRefused:
		return t.Refused
	case StatusTimeout:
		return t.Timeout
	case StatusUnreachable:
		return t.Unreachable
	}
	return 0
}

// Total returns the number of events counted.
func (t Tally) Total() int {
	return t.Open + t.Refused + t.Timeout + t.Unreachable + t.Failed
}
