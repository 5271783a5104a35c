package asdu

import "time"

// CP56Time2a is the seven-octet binary time: millisecond precision,
// local time, no century or time-zone encoded. See companion standard
// 101, subsection 7.2.6.18.
type CP56Time2a [7]byte

// Invalid reports the IV flag.
func (t *CP56Time2a) Invalid() bool {
	return t[2]&0x80 != 0
}

// SetCP56Time2a marshals t into a CP56Time2a. The zero time marks the
// result invalid (IV flag set). Sub-millisecond precision is dropped
// without rounding.
func SetCP56Time2a(t time.Time) CP56Time2a {
	var out CP56Time2a
	if t.IsZero() {
		out[2] = 0x80
		return out
	}

	year, month, day := t.Date()
	hour, minute, second := t.Clock()
	if t.IsDST() {
		hour |= 0x80 // SU flag
	}
	day |= int(t.Weekday()+1) << 5

	millis := uint(second*1000) + uint(t.Nanosecond()/1e6)
	out[0] = byte(millis)
	out[1] = byte(millis >> 8)
	out[2] = byte(minute)
	out[3] = byte(hour)
	out[4] = byte(day)
	out[5] = byte(month)
	out[6] = byte(year % 100)
	return out
}

// Time reconstructs a time.Time in loc, assuming the encoded year is in
// [2000, 2099]. Returns the zero Time when the IV flag is set.
func (t *CP56Time2a) Time(loc *time.Location) time.Time {
	if t.Invalid() {
		return time.Time{}
	}
	yearInCentury := int(t[6] & 0x7f)
	month := time.Month(t[5] & 0x0f)
	day := int(t[4] & 0x1f)
	hour := int(t[3] & 0x1f)
	minute := int(t[2] & 0x3f)
	secInMilli := int(uint(t[1])<<8 | uint(t[0]))

	sec := secInMilli / 1000
	nanos := (secInMilli % 1000) * 1e6
	return time.Date(yearInCentury+2000, month, day, hour, minute, sec, nanos, loc)
}

// CP24Time2a is the three-octet binary time: millisecond precision
// within the current hour, no hour/date/time-zone encoded. See
// companion standard 101, subsection 7.2.6.19.
type CP24Time2a [3]byte

// Invalid reports the IV flag.
func (t *CP24Time2a) Invalid() bool {
	return t[2]&0x80 != 0
}

// SetCP24Time2a marshals t into a CP24Time2a.
func SetCP24Time2a(t time.Time) CP24Time2a {
	var out CP24Time2a
	if t.IsZero() {
		out[2] = 0x80
		return out
	}
	_, minute, second := t.Clock()
	millis := uint(second*1000) + uint(t.Nanosecond()/1e6)
	out[0] = byte(millis)
	out[1] = byte(millis >> 8)
	out[2] = byte(minute)
	return out
}

// WithinHourBefore reconstructs a timestamp assuming the encoded moment
// is within the hour preceding ref, in ref's location. Returns the zero
// Time when the IV flag is set.
func (t *CP24Time2a) WithinHourBefore(ref time.Time) time.Time {
	if t.Invalid() {
		return time.Time{}
	}
	year, month, day := ref.Date()
	hour, _, _ := ref.Clock()
	minute := int(t[2] & 0x3f)
	secInMilli := int(uint(t[1])<<8 | uint(t[0]))

	refMinute, refSec := ref.Minute(), ref.Second()*1000+ref.Nanosecond()/1e6
	if minute > refMinute || (minute == refMinute && secInMilli > refSec) {
		hour--
	}
	return time.Date(year, month, day, hour, minute, secInMilli/1000, (secInMilli%1000)*1e6, ref.Location())
}
