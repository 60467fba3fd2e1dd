package sqlite

import "time"

// iso8601Layout is the text format used for every timestamp column. This
// boundary is the only place the gateway converts between time.Time and
// ISO-8601 text (spec §4.E, §4.F).
const iso8601Layout = "2006-01-02T15:04:05.000000Z07:00"

func toISO8601(t time.Time) string {
	return t.UTC().Format(iso8601Layout)
}

func fromISO8601(s string) (time.Time, error) {
	return time.Parse(iso8601Layout, s)
}
