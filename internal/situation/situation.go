package situation

import "time"

// Time-of-day buckets with fixed boundaries.
const (
	TimeMorning   = "Morning"
	TimeAfternoon = "Afternoon"
	TimeEvening   = "Evening"
	TimeNight     = "Night"
)

const (
	DayTypeWeekday = "Weekday"
	DayTypeWeekend = "Weekend"
)

// Place sentinels. "unavailable" means position acquisition failed;
// "Unknown" means the geocoder answered without a usable locality field.
const (
	PlaceUnavailable = "unavailable"
	PlaceUnknown     = "Unknown"
)

const (
	ActivityWork    = "work"
	ActivityGeneral = "general"
)

// TimeOfDayForHour maps an hour of day onto its bucket:
// 5-12 Morning, 12-17 Afternoon, 17-22 Evening, else Night.
func TimeOfDayForHour(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return TimeMorning
	case hour >= 12 && hour < 17:
		return TimeAfternoon
	case hour >= 17 && hour < 22:
		return TimeEvening
	default:
		return TimeNight
	}
}

// DayTypeForWeekday reports Weekend for Saturday and Sunday, Weekday otherwise.
func DayTypeForWeekday(day time.Weekday) string {
	if day == time.Saturday || day == time.Sunday {
		return DayTypeWeekend
	}
	return DayTypeWeekday
}
