package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haneum/bandcrawl/internal/models"
)

// Korean pickup-date phrases are resolved against a reference timestamp,
// normally the post's stated post time. Resolution never fails: malformed
// phrases fall back to tomorrow at noon so one bad date cannot abort
// extraction for the whole post.

var (
	explicitDateRe = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	weekdayRe      = regexp.MustCompile(`(오늘|내일|모레|다음주)?\s*([월화수목금토일])요일`)
	monthDayRe     = regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`)
	dayOnlyRe      = regexp.MustCompile(`(\d{1,2})일`)
	clockRe        = regexp.MustCompile(`(오전|오후)?\s*(\d{1,2})시(?:\s*(\d{1,2})분)?`)
)

var weekdayNames = map[string]time.Weekday{
	"일": time.Sunday,
	"월": time.Monday,
	"화": time.Tuesday,
	"수": time.Wednesday,
	"목": time.Thursday,
	"금": time.Friday,
	"토": time.Saturday,
}

var pickupKeywords = []struct {
	keyword string
	ptype   models.PickupType
}{
	{"도착", models.PickupArrival},
	{"배송", models.PickupDelivery},
	{"픽업", models.PickupCounter},
	{"전달", models.PickupHandOff},
	{"수령", models.PickupReceive},
}

// ExtractPickupDate resolves a relative Korean date expression to an absolute
// timestamp in the reference time's location, together with the fulfillment
// type inferred from keywords in the text. Defaults: noon when no clock time
// is present, tomorrow at noon when the text is "미정" or unresolvable.
func ExtractPickupDate(text string, ref time.Time) (pickup time.Time, ptype models.PickupType) {
	ptype = inferPickupType(text)
	pickup = fallbackPickup(ref)

	defer func() {
		// A malformed phrase must never abort extraction for the whole post
		if r := recover(); r != nil {
			pickup = fallbackPickup(ref)
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, "미정") {
		return pickup, ptype
	}

	hour, minute := extractClockTime(text)

	// An explicit YYYY-MM-DD date is authoritative
	if m := explicitDateRe.FindStringSubmatch(text); m != nil {
		year := atoi(m[1])
		month := atoi(m[2])
		day := atoi(m[3])
		pickup = time.Date(year, time.Month(month), day, hour, minute, 0, 0, ref.Location())
		return pickup, ptype
	}

	if day, ok := resolveRelativeDay(text, ref); ok {
		pickup = atTime(day, hour, minute)
		return pickup, ptype
	}

	if day, ok := resolveWeekday(text, ref); ok {
		pickup = atTime(day, hour, minute)
		return pickup, ptype
	}

	if day, ok := resolveMonthDay(text, ref); ok {
		pickup = atTime(day, hour, minute)
		return pickup, ptype
	}

	return pickup, ptype
}

// resolveRelativeDay handles bare 오늘/내일/모레 (today/tomorrow/day-after).
// Phrases with a weekday name attached are left for resolveWeekday.
func resolveRelativeDay(text string, ref time.Time) (time.Time, bool) {
	if weekdayRe.MatchString(text) {
		return time.Time{}, false
	}
	switch {
	case strings.Contains(text, "모레"):
		return ref.AddDate(0, 0, 2), true
	case strings.Contains(text, "내일"):
		return ref.AddDate(0, 0, 1), true
	case strings.Contains(text, "오늘"):
		return ref, true
	}
	return time.Time{}, false
}

// resolveWeekday handles "<relative-prefix> <weekday>요일": the prefix picks
// the anchor date, then the target weekday offset is computed from it.
func resolveWeekday(text string, ref time.Time) (time.Time, bool) {
	m := weekdayRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}

	target, ok := weekdayNames[m[2]]
	if !ok {
		return time.Time{}, false
	}

	anchor := ref
	switch m[1] {
	case "내일":
		anchor = ref.AddDate(0, 0, 1)
	case "모레":
		anchor = ref.AddDate(0, 0, 2)
	case "다음주":
		// Anchor at next Monday
		days := (8 - int(ref.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		anchor = ref.AddDate(0, 0, days)
	}

	offset := (int(target) - int(anchor.Weekday()) + 7) % 7
	return anchor.AddDate(0, 0, offset), true
}

// resolveMonthDay handles "N월 M일" and bare "M일", rolling forward to the
// next year or month when the resulting date is already in the past.
func resolveMonthDay(text string, ref time.Time) (time.Time, bool) {
	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		month := atoi(m[1])
		day := atoi(m[2])
		candidate := time.Date(ref.Year(), time.Month(month), day, 0, 0, 0, 0, ref.Location())
		if beforeDay(candidate, ref) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate, true
	}

	if m := dayOnlyRe.FindStringSubmatch(text); m != nil {
		day := atoi(m[1])
		if day < 1 || day > 31 {
			return time.Time{}, false
		}
		candidate := time.Date(ref.Year(), ref.Month(), day, 0, 0, 0, 0, ref.Location())
		if beforeDay(candidate, ref) {
			candidate = candidate.AddDate(0, 1, 0)
		}
		return candidate, true
	}

	return time.Time{}, false
}

// extractClockTime parses "H시[M분]" with 오전/오후 12-hour adjustment.
// Defaults to 12:00 when no clock time is present.
func extractClockTime(text string) (hour, minute int) {
	hour, minute = 12, 0

	m := clockRe.FindStringSubmatch(text)
	if m == nil {
		return hour, minute
	}

	h := atoi(m[2])
	if h < 0 || h > 23 {
		return 12, 0
	}
	switch m[1] {
	case "오후":
		if h < 12 {
			h += 12
		}
	case "오전":
		if h == 12 {
			h = 0
		}
	}
	hour = h

	if m[3] != "" {
		if mm := atoi(m[3]); mm >= 0 && mm < 60 {
			minute = mm
		}
	}

	return hour, minute
}

func inferPickupType(text string) models.PickupType {
	for _, k := range pickupKeywords {
		if strings.Contains(text, k.keyword) {
			return k.ptype
		}
	}
	return models.PickupReceive
}

func fallbackPickup(ref time.Time) time.Time {
	return atTime(ref.AddDate(0, 0, 1), 12, 0)
}

// beforeDay reports whether candidate falls on an earlier calendar day than ref
func beforeDay(candidate, ref time.Time) bool {
	refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	return candidate.Before(refDay)
}

func atTime(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
