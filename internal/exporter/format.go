package exporter

import (
	"strconv"
	"time"
)

// timeLayout is what spreadsheet users in the municipalities expect
const timeLayout = "2006-01-02 15:04:05"

func formatInt(i int) string {
	return strconv.Itoa(i)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

// seconds rounds d to whole seconds, never below zero
func seconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(seconds(d), 10)
}
