package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agenticpress/homevalue-gate/internal/events"
	"github.com/agenticpress/homevalue-gate/internal/metrics"
)

// Response formatting mirrors the public form's expectations: display-ready
// strings with "N/A" for absent fields.

func dollarsOrNA(n int64) string {
	if n == 0 {
		return "N/A"
	}
	return "$" + groupThousands(n)
}

func rangeOrNA(low, high int64) string {
	if low == 0 || high == 0 {
		return "N/A"
	}
	return "$" + groupThousands(low) + " - $" + groupThousands(high)
}

func percentOrNA(n int) string {
	if n == 0 {
		return "N/A"
	}
	return strconv.Itoa(n) + "%"
}

func intOrNA(n int) string {
	if n == 0 {
		return "N/A"
	}
	return strconv.Itoa(n)
}

func floatOrNA(f float64) string {
	if f == 0 {
		return "N/A"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

func strOrNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func updateEventLogSize(l *events.BoltLog) {
	if path := l.DBPath(); path != "" {
		if info, err := os.Stat(path); err == nil {
			metrics.EventLogSizeBytes.Set(float64(info.Size()))
		}
	}
}
