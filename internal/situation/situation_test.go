package situation

import (
	"testing"
	"time"
)

func TestTimeOfDayForHourFullTable(t *testing.T) {
	expected := map[int]string{
		0: TimeNight, 1: TimeNight, 2: TimeNight, 3: TimeNight, 4: TimeNight,
		5: TimeMorning, 6: TimeMorning, 7: TimeMorning, 8: TimeMorning,
		9: TimeMorning, 10: TimeMorning, 11: TimeMorning,
		12: TimeAfternoon, 13: TimeAfternoon, 14: TimeAfternoon,
		15: TimeAfternoon, 16: TimeAfternoon,
		17: TimeEvening, 18: TimeEvening, 19: TimeEvening, 20: TimeEvening,
		21: TimeEvening,
		22: TimeNight, 23: TimeNight,
	}
	for hour := 0; hour < 24; hour++ {
		if got := TimeOfDayForHour(hour); got != expected[hour] {
			t.Fatalf("hour %d: expected %s, got %s", hour, expected[hour], got)
		}
	}
}

func TestDayTypeForWeekday(t *testing.T) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		want := DayTypeWeekday
		if day == time.Saturday || day == time.Sunday {
			want = DayTypeWeekend
		}
		if got := DayTypeForWeekday(day); got != want {
			t.Fatalf("%s: expected %s, got %s", day, want, got)
		}
	}
}
