package analytics

import (
	"sort"
	"time"

	"ms-restaurant/internal/models"
)

// StatusDuration is how long one order stayed in one status. Open is true
// for the current status of an order that has not reached a terminal state;
// its duration runs until the time passed in.
type StatusDuration struct {
	OrderID  string        `json:"orderId"`
	Status   models.Status `json:"status"`
	Since    time.Time     `json:"since"`
	Until    time.Time     `json:"until"`
	Duration time.Duration `json:"durationNs"`
	Seconds  float64       `json:"seconds"`
	Open     bool          `json:"open"`
}

// TimeInStatus walks ledger entries and measures each status as the delta to
// the next entry of the same order. Entries may belong to several orders; they
// are grouped and ordered by time first. Terminal statuses have no duration.
func TimeInStatus(entries []models.StatusLogEntry, now time.Time) []StatusDuration {
	byOrder := make(map[string][]models.StatusLogEntry)
	var orderIDs []string
	for _, e := range entries {
		if _, seen := byOrder[e.OrderID]; !seen {
			orderIDs = append(orderIDs, e.OrderID)
		}
		byOrder[e.OrderID] = append(byOrder[e.OrderID], e)
	}

	var out []StatusDuration
	for _, id := range orderIDs {
		list := byOrder[id]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].ChangedAt.Equal(list[j].ChangedAt) {
				return list[i].ID < list[j].ID
			}
			return list[i].ChangedAt.Before(list[j].ChangedAt)
		})
		for i, e := range list {
			if e.Status.Terminal() {
				continue
			}
			d := StatusDuration{OrderID: id, Status: e.Status, Since: e.ChangedAt}
			if i+1 < len(list) {
				d.Until = list[i+1].ChangedAt
			} else {
				d.Until = now
				d.Open = true
			}
			if d.Until.Before(d.Since) {
				d.Until = d.Since
			}
			d.Duration = d.Until.Sub(d.Since)
			d.Seconds = d.Duration.Seconds()
			out = append(out, d)
		}
	}
	return out
}

// StatusAverage summarizes closed intervals of one status across orders.
type StatusAverage struct {
	Status         models.Status `json:"status"`
	Samples        int           `json:"samples"`
	AverageSeconds float64       `json:"averageSeconds"`
	MaxSeconds     float64       `json:"maxSeconds"`
}

// Averages ignores open intervals: an order still cooking says nothing yet
// about how long cooking takes.
func Averages(durations []StatusDuration) []StatusAverage {
	type acc struct {
		n     int
		total time.Duration
		max   time.Duration
	}
	sums := make(map[models.Status]*acc)
	for _, d := range durations {
		if d.Open {
			continue
		}
		a, ok := sums[d.Status]
		if !ok {
			a = &acc{}
			sums[d.Status] = a
		}
		a.n++
		a.total += d.Duration
		if d.Duration > a.max {
			a.max = d.Duration
		}
	}

	var out []StatusAverage
	for _, st := range models.AllStatuses {
		a, ok := sums[st]
		if !ok {
			continue
		}
		out = append(out, StatusAverage{
			Status:         st,
			Samples:        a.n,
			AverageSeconds: (a.total / time.Duration(a.n)).Seconds(),
			MaxSeconds:     a.max.Seconds(),
		})
	}
	return out
}
