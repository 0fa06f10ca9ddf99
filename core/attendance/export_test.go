package attendance

var (
	WeekdaysBetween = weekdaysBetween
	SessionStarting = sessionStarting
	ParseClockTime  = parseClockTime
)
