package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout формат дат, используемый в расписаниях, периодах кампаний и экспорте
const DateLayout = "2006-01-02"

// ParseDate разбирает дату в формате YYYY-MM-DD (UTC, без времени)
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate форматирует дату в YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOnly отбрасывает время суток, сохраняя календарный день
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween возвращает число календарных дней от a до b
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// PeriodLabel возвращает метку квартала вида 2025-Q4
func PeriodLabel(t time.Time) string {
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%d-Q%d", t.Year(), q)
}
