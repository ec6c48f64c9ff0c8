package adops

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a remote primitive encoding for a field value.
type Kind string

const (
	KindMoney      Kind = "money"
	KindBid        Kind = "bid"
	KindLong       Kind = "long"
	KindInteger    Kind = "integer"
	KindDouble     Kind = "double"
	KindString     Kind = "string"
	KindStringList Kind = "string_list"
	KindDateTime   Kind = "datetime"
	KindIdentity   Kind = "identity"
)

// remoteDateTimeLayout is the wall-clock format the remote API expects.
const remoteDateTimeLayout = "20060102 150405"

// fieldKinds maps generic field names to their remote encoding. Fields not
// listed here pass through unchanged.
var fieldKinds = map[string]Kind{
	"client_id":       KindLong,
	"campaign_id":     KindLong,
	"adgroup_id":      KindLong,
	"ad_id":           KindLong,
	"criteria_id":     KindLong,
	"criterion_id":    KindLong,
	"budget_id":       KindLong,
	"label_id":        KindLong,
	"shared_set_id":   KindLong,
	"language_id":     KindLong,
	"location_id":     KindLong,
	"customer_id":     KindLong,
	"budget":          KindMoney,
	"cpc_bid":         KindBid,
	"budget_order":    KindMoney,
	"bid_modifier":    KindDouble,
	"start_date_time": KindDateTime,
	"end_date_time":   KindDateTime,
	"conversion_time": KindDateTime,
	"adjustment_time": KindDateTime,
	"final_urls":      KindStringList,
	"languages":       KindIdentity,
	"locations":       KindIdentity,

	"object_type":         KindString,
	"operator":            KindString,
	"status":              KindString,
	"campaign_name":       KindString,
	"adgroup_name":        KindString,
	"budget_name":         KindString,
	"shared_set_name":     KindString,
	"shared_set_type":     KindString,
	"label":               KindString,
	"text":                KindString,
	"keyword_match_type":  KindString,
	"delivery":            KindString,
	"advertising_channel": KindString,
	"headline_part_1":     KindString,
	"headline_part_2":     KindString,
	"description":         KindString,
	"path_1":              KindString,
	"path_2":              KindString,
	"match_type":          KindString,
	"schedule_day":        KindString,
}

// KindOf reports the remote encoding registered for a generic field name.
func KindOf(field string) Kind {
	if kind, ok := fieldKinds[field]; ok {
		return kind
	}
	return KindIdentity
}

// ToRemote converts a generic field value into the remote API's primitive
// encoding for the given kind.
func ToRemote(kind Kind, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case KindMoney, KindBid:
		amount, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return moneyToMicros(amount), nil
	case KindLong, KindInteger:
		return toInt64(value)
	case KindDouble:
		return toFloat(value)
	case KindString:
		return toString(value), nil
	case KindStringList:
		return toStringList(value)
	case KindDateTime:
		return toRemoteDateTime(value)
	default:
		return value, nil
	}
}

// FromRemote converts a raw remote value back into the generic representation.
// Remote numeric fields frequently arrive as strings with unit suffixes, so
// long and double parsing scrapes digits rather than failing outright.
func FromRemote(kind Kind, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch kind {
	case KindMoney, KindBid:
		micros, err := scrapeFloat(toString(raw))
		if err != nil {
			return nil, err
		}
		return micros / 1e6, nil
	case KindLong, KindInteger:
		return scrapeInt(toString(raw))
	case KindDouble:
		return scrapeFloat(toString(raw))
	case KindString:
		return toString(raw), nil
	case KindStringList:
		return toStringList(raw)
	case KindDateTime:
		parsed, err := time.Parse(remoteDateTimeLayout, toString(raw))
		if err != nil {
			return nil, err
		}
		return parsed, nil
	default:
		return raw, nil
	}
}

// moneyToMicros converts a currency amount to remote micro units. Amounts are
// rounded up to whole cents first and never drop below one cent, matching the
// remote system's minimum billable unit.
func moneyToMicros(amount float64) int64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	cents := math.Ceil(amount*100.0) / 100.0
	if cents < 0.01 {
		cents = 0.01
	}
	return int64(math.Round(cents * 1e6))
}

func toRemoteDateTime(value any) (string, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Format(remoteDateTimeLayout), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if parsed, err := time.Parse(remoteDateTimeLayout, trimmed); err == nil {
			return parsed.Format(remoteDateTimeLayout), nil
		}
		if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
			return parsed.Format(remoteDateTimeLayout), nil
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", trimmed); err == nil {
			return parsed.Format(remoteDateTimeLayout), nil
		}
		return "", fmt.Errorf("unparseable datetime %q", v)
	default:
		return "", fmt.Errorf("unsupported datetime value %T", value)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable number %q", v)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported numeric value %T", value)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("non-integral value %v", v)
		}
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable integer %q", v)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported integer value %T", value)
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toStringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, toString(item))
		}
		return items, nil
	case string:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("unsupported string list value %T", value)
	}
}

// scrapeInt extracts the digits from a raw remote value. Values such as
// " 1,234 " or "auto: 552" reduce to the embedded integer; no digits at all
// reduce to zero.
func scrapeInt(raw string) (int64, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, nil
	}
	return strconv.ParseInt(digits.String(), 10, 64)
}

func scrapeFloat(raw string) (float64, error) {
	var kept strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			kept.WriteRune(r)
		}
	}
	if kept.Len() == 0 {
		return 0, nil
	}
	return strconv.ParseFloat(kept.String(), 64)
}
