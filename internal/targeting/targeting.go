package targeting

import (
	"fmt"
	"strings"
	"time"

	"github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

// NewUserWindow bounds the "new user" criterion: registered within the last
// seven days.
const NewUserWindow = 7 * 24 * time.Hour

// Matches reports whether the user context satisfies the rule set. An empty
// set means no targeting restriction. Otherwise the context must satisfy at
// least one rule (OR across rules); within a rule the criteria tag and every
// structured condition must hold (AND). Missing context data makes a rule
// fail, never error.
func Matches(userCtx experiments.UserContext, rules []experiments.TargetingRule) bool {
	return MatchesAt(time.Now().UTC(), userCtx, rules)
}

// MatchesAt is Matches with an injected clock for the time-relative criteria.
func MatchesAt(now time.Time, userCtx experiments.UserContext, rules []experiments.TargetingRule) bool {
	if len(rules) == 0 {
		return true
	}
	for _, rule := range rules {
		if ruleMatches(now, userCtx, rule) {
			return true
		}
	}
	return false
}

func ruleMatches(now time.Time, userCtx experiments.UserContext, rule experiments.TargetingRule) bool {
	if !criteriaMatches(now, userCtx, rule.Criteria) {
		return false
	}
	return conditionsMatch(userCtx, rule.Conditions)
}

func criteriaMatches(now time.Time, userCtx experiments.UserContext, criteria string) bool {
	switch criteria {
	case "", experiments.CriteriaAllUsers:
		return true
	case experiments.CriteriaNewUser:
		reg := userCtx.Properties.RegistrationDate
		if reg == nil {
			return false
		}
		age := now.Sub(*reg)
		return age >= 0 && age <= NewUserWindow
	case experiments.CriteriaReturningUser:
		return userCtx.Properties.Behavior.SessionCount > 1
	case experiments.CriteriaPremiumUser:
		return strings.EqualFold(strings.TrimSpace(userCtx.Properties.SubscriptionTier), "premium")
	case experiments.CriteriaMobileUser:
		return strings.EqualFold(strings.TrimSpace(userCtx.Properties.Device.Type), "mobile")
	case experiments.CriteriaDesktopUser:
		return strings.EqualFold(strings.TrimSpace(userCtx.Properties.Device.Type), "desktop")
	default:
		return false
	}
}

func conditionsMatch(userCtx experiments.UserContext, cond *experiments.RuleConditions) bool {
	if cond == nil {
		return true
	}
	if cond.DeviceType != "" {
		if !strings.EqualFold(strings.TrimSpace(userCtx.Properties.Device.Type), cond.DeviceType) {
			return false
		}
	}
	if len(cond.Locations) > 0 {
		loc := strings.TrimSpace(userCtx.Properties.Location)
		if loc == "" {
			return false
		}
		found := false
		for _, allowed := range cond.Locations {
			if strings.EqualFold(loc, strings.TrimSpace(allowed)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, want := range cond.Attributes {
		got, ok := userCtx.CustomAttribute(key)
		if !ok {
			return false
		}
		if attributeString(got) != want {
			return false
		}
	}
	return true
}

// attributeString normalizes custom attribute values for equality checks.
// JSON numbers arrive as float64; integral ones compare as their integer
// form ("42", not "42.000000").
func attributeString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
