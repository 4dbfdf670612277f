package situation

import (
	"strings"
	"sync"
	"time"

	"github.com/parlolabs/parlo-core/internal/config"
)

// activityLabeler derives a coarse activity label from a work-hours rule and
// keeps a sliding vote window so a single odd sample does not flip the label.
// Confidence is the winning label's share of the window; ties go to the label
// seen most recently.
type activityLabeler struct {
	workStart  int
	workEnd    int
	workPlaces map[string]struct{}
	window     time.Duration

	mu    sync.Mutex
	votes []activityVote
}

type activityVote struct {
	label string
	at    time.Time
}

func newActivityLabeler(cfg config.SituationConfig) *activityLabeler {
	places := make(map[string]struct{}, len(cfg.WorkPlaces))
	for _, p := range cfg.WorkPlaces {
		places[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return &activityLabeler{
		workStart:  cfg.WorkHourStart,
		workEnd:    cfg.WorkHourEnd,
		workPlaces: places,
		window:     time.Hour,
	}
}

func (l *activityLabeler) rule(now time.Time, place string) string {
	if DayTypeForWeekday(now.Weekday()) == DayTypeWeekday &&
		now.Hour() >= l.workStart && now.Hour() < l.workEnd {
		return ActivityWork
	}
	if _, ok := l.workPlaces[strings.ToLower(place)]; ok {
		return ActivityWork
	}
	return ActivityGeneral
}

// Label records one observation and returns the current winner and its share
// of the vote window.
func (l *activityLabeler) Label(now time.Time, place string) (string, float64) {
	observed := l.rule(now, place)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.votes[:0]
	for _, v := range l.votes {
		if now.Sub(v.at) < l.window {
			kept = append(kept, v)
		}
	}
	l.votes = append(kept, activityVote{label: observed, at: now})

	counts := make(map[string]int)
	for _, v := range l.votes {
		counts[v.label]++
	}

	best := observed
	bestCount := counts[observed]
	// walk newest-first so an equally frequent label loses to a fresher one
	for i := len(l.votes) - 1; i >= 0; i-- {
		label := l.votes[i].label
		if counts[label] > bestCount {
			best = label
			bestCount = counts[label]
		}
	}
	return best, float64(bestCount) / float64(len(l.votes))
}

// Reset drops accumulated votes.
func (l *activityLabeler) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.votes = nil
}
