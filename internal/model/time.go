package model

import (
	"bytes"
	"fmt"
	"time"
)

// LocalTime 是后端使用的无时区时间，序列化为 "2006-01-02T15:04:05"。
type LocalTime time.Time

const timeFormat = "2006-01-02T15:04:05"

// 后端不同接口返回的时间格式不完全一致
var acceptedLayouts = []string{
	time.RFC3339Nano,
	timeFormat,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Now 返回当前时间（秒精度）。
func Now() LocalTime {
	return LocalTime(time.Now().Truncate(time.Second))
}

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte(`""`), nil
	}
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).Format(timeFormat))
	return []byte(formatted), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*t = LocalTime{}
		return nil
	}
	for _, layout := range acceptedLayouts {
		if parsed, err := time.ParseInLocation(layout, string(data), time.Local); err == nil {
			*t = LocalTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("无法解析时间: %s", data)
}

// Time 返回对应的 time.Time。
func (t LocalTime) Time() time.Time {
	return time.Time(t)
}

func (t LocalTime) String() string {
	if time.Time(t).IsZero() {
		return ""
	}
	return time.Time(t).Format("2006-01-02 15:04")
}
