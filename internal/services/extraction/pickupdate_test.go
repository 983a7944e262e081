package extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/haneum/bandcrawl/internal/models"
)

func refTime(t *testing.T) time.Time {
	t.Helper()
	// Tuesday, 18 June 2024, 09:00 UTC
	ref, err := time.Parse(time.RFC3339, "2024-06-18T09:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestExtractPickupDate_RelativeDays(t *testing.T) {
	ref := refTime(t)

	tests := []struct {
		name     string
		text     string
		wantDate string
		wantType models.PickupType
	}{
		{
			name:     "tomorrow afternoon with arrival keyword",
			text:     "내일 오후 2시 도착",
			wantDate: "2024-06-19T14:00:00Z",
			wantType: models.PickupArrival,
		},
		{
			name:     "today defaults to noon",
			text:     "오늘 수령해가세요",
			wantDate: "2024-06-18T12:00:00Z",
			wantType: models.PickupReceive,
		},
		{
			name:     "day after tomorrow morning",
			text:     "모레 오전 10시 픽업",
			wantDate: "2024-06-20T10:00:00Z",
			wantType: models.PickupCounter,
		},
		{
			name:     "with minutes",
			text:     "내일 오후 3시 30분 전달",
			wantDate: "2024-06-19T15:30:00Z",
			wantType: models.PickupHandOff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pickup, ptype := ExtractPickupDate(tt.text, ref)
			assert.Equal(t, tt.wantDate, pickup.Format(time.RFC3339))
			assert.Equal(t, tt.wantType, ptype)
		})
	}
}

func TestExtractPickupDate_Weekdays(t *testing.T) {
	// Reference is a Tuesday
	ref := refTime(t)

	tests := []struct {
		name     string
		text     string
		wantDate string
	}{
		{
			name:     "bare weekday resolves to the coming one",
			text:     "금요일 수령",
			wantDate: "2024-06-21T12:00:00Z",
		},
		{
			name:     "same weekday as reference stays on reference day",
			text:     "화요일",
			wantDate: "2024-06-18T12:00:00Z",
		},
		{
			name:     "next-week prefix anchors at next Monday",
			text:     "다음주 수요일 배송",
			wantDate: "2024-06-26T12:00:00Z",
		},
		{
			name:     "tomorrow prefix with weekday",
			text:     "내일 수요일 도착",
			wantDate: "2024-06-19T12:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pickup, _ := ExtractPickupDate(tt.text, ref)
			assert.Equal(t, tt.wantDate, pickup.Format(time.RFC3339))
		})
	}
}

func TestExtractPickupDate_MonthDay(t *testing.T) {
	ref := refTime(t)

	tests := []struct {
		name     string
		text     string
		wantDate string
	}{
		{
			name:     "month and day in the future",
			text:     "6월 25일 오후 5시",
			wantDate: "2024-06-25T17:00:00Z",
		},
		{
			name:     "past month rolls to next year",
			text:     "1월 5일",
			wantDate: "2025-01-05T12:00:00Z",
		},
		{
			name:     "bare day in the future stays in current month",
			text:     "25일 도착",
			wantDate: "2024-06-25T12:00:00Z",
		},
		{
			name:     "past bare day rolls to next month",
			text:     "5일 수령",
			wantDate: "2024-07-05T12:00:00Z",
		},
		{
			name:     "explicit date is authoritative",
			text:     "2024-07-01 오전 9시 배송",
			wantDate: "2024-07-01T09:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pickup, _ := ExtractPickupDate(tt.text, ref)
			assert.Equal(t, tt.wantDate, pickup.Format(time.RFC3339))
		})
	}
}

func TestExtractPickupDate_Fallbacks(t *testing.T) {
	ref := refTime(t)
	tomorrowNoon := "2024-06-19T12:00:00Z"

	tests := []struct {
		name     string
		text     string
		wantType models.PickupType
	}{
		{name: "undecided", text: "미정", wantType: models.PickupReceive},
		{name: "undecided with keyword", text: "배송일 미정", wantType: models.PickupDelivery},
		{name: "empty text", text: "", wantType: models.PickupReceive},
		{name: "gibberish", text: "ㅋㅋㅋ 맛있어요", wantType: models.PickupReceive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pickup, ptype := ExtractPickupDate(tt.text, ref)
			assert.Equal(t, tomorrowNoon, pickup.Format(time.RFC3339))
			assert.Equal(t, tt.wantType, ptype)
		})
	}
}

func TestExtractPickupDate_TwelveHourAdjustment(t *testing.T) {
	ref := refTime(t)

	pickup, _ := ExtractPickupDate("오늘 오후 12시", ref)
	assert.Equal(t, 12, pickup.Hour(), "오후 12시 stays noon")

	pickup, _ = ExtractPickupDate("오늘 오전 12시", ref)
	assert.Equal(t, 0, pickup.Hour(), "오전 12시 is midnight")

	pickup, _ = ExtractPickupDate("오늘 오후 7시", ref)
	assert.Equal(t, 19, pickup.Hour())
}
