// Package calendar содержит арифметику рабочих дней и календарных дат.
package calendar

import "time"

// IsBusinessDay сообщает, является ли дата рабочим днём (понедельник–пятница).
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// StartOfDay возвращает начало суток для t в его часовом поясе.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextDayStart возвращает 00:00 следующих календарных суток после t.
func NextDayStart(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}

// CountBusinessDays считает рабочие дни в закрытом интервале дат [from, to].
// Сравнение выполняется по календарным датам в часовом поясе from.
func CountBusinessDays(from, to time.Time) int {
	current := StartOfDay(from)
	last := StartOfDay(to.In(from.Location()))

	count := 0
	for !current.After(last) {
		if IsBusinessDay(current) {
			count++
		}
		current = current.AddDate(0, 0, 1)
	}
	return count
}

// AddMonthsEndOfDay прибавляет календарные месяцы и фиксирует время на 23:59:59.999.
func AddMonthsEndOfDay(t time.Time, months int) time.Time {
	shifted := t.AddDate(0, months, 0)
	y, m, d := shifted.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
