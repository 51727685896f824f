package core

import (
	"fmt"
	"strings"
)

// FailureReason is the coarse category of a job failure.
type FailureReason int

const (
	FailureUnknown FailureReason = iota
	FailureNetwork
	FailureScraper
	FailureTargetBlocked
)

var failureReasonNames = [...]string{
	FailureUnknown:       "Unknown",
	FailureNetwork:       "NetworkError",
	FailureScraper:       "ScraperError",
	FailureTargetBlocked: "TargetBlocked",
}

func (r FailureReason) String() string {
	if r < 0 || int(r) >= len(failureReasonNames) {
		return failureReasonNames[FailureUnknown]
	}
	return failureReasonNames[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r FailureReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *FailureReason) UnmarshalText(text []byte) error {
	for i, name := range failureReasonNames {
		if name == string(text) {
			*r = FailureReason(i)
			return nil
		}
	}
	return fmt.Errorf("unknown failure reason %q", text)
}

// Classification rules, in priority order. The first rule with a matching
// substring wins, so network failures shadow parse failures.
var classificationRules = []struct {
	reason  FailureReason
	markers []string
}{
	{FailureNetwork, []string{"network", "econnrefused"}},
	{FailureScraper, []string{"scraper", "parse"}},
	{FailureTargetBlocked, []string{"blocked", "captcha"}},
}

// Classify maps an error to a FailureReason by case-insensitive substring
// matching on its message. It never fails; unrecognised errors are
// FailureUnknown.
func Classify(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage applies the classification rules to a raw message.
func ClassifyMessage(msg string) FailureReason {
	msg = strings.ToLower(msg)
	for _, rule := range classificationRules {
		for _, marker := range rule.markers {
			if strings.Contains(msg, marker) {
				return rule.reason
			}
		}
	}
	return FailureUnknown
}
