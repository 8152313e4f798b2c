package targeting

import (
	"testing"
	"time"

	"github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) *time.Time {
	t := now.Add(-time.Duration(d) * 24 * time.Hour)
	return &t
}

func baseContext() experiments.UserContext {
	return experiments.UserContext{
		UserID:          "user-1",
		IsAuthenticated: true,
		Properties: experiments.UserProperties{
			RegistrationDate: daysAgo(30),
			SubscriptionTier: "free",
			Location:         "US",
			Device:           experiments.DeviceInfo{Type: "desktop"},
			Behavior:         experiments.BehavioralAttributes{SessionCount: 5},
		},
	}
}

func rule(criteria string) experiments.TargetingRule {
	return experiments.TargetingRule{Criteria: criteria}
}

func TestMatchesAt(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *experiments.UserContext)
		rules  []experiments.TargetingRule
		want   bool
	}{
		{
			name:   "empty_rule_set_matches_everyone",
			mutate: func(c *experiments.UserContext) {},
			rules:  nil,
			want:   true,
		},
		{
			name:   "all_users",
			mutate: func(c *experiments.UserContext) {},
			rules:  []experiments.TargetingRule{rule(experiments.CriteriaAllUsers)},
			want:   true,
		},
		{
			name: "new_user_within_window",
			mutate: func(c *experiments.UserContext) {
				c.Properties.RegistrationDate = daysAgo(6)
			},
			rules: []experiments.TargetingRule{rule(experiments.CriteriaNewUser)},
			want:  true,
		},
		{
			name: "new_user_outside_window",
			mutate: func(c *experiments.UserContext) {
				c.Properties.RegistrationDate = daysAgo(8)
			},
			rules: []experiments.TargetingRule{rule(experiments.CriteriaNewUser)},
			want:  false,
		},
		{
			name: "new_user_missing_registration_date",
			mutate: func(c *experiments.UserContext) {
				c.Properties.RegistrationDate = nil
			},
			rules: []experiments.TargetingRule{rule(experiments.CriteriaNewUser)},
			want:  false,
		},
		{
			name: "new_user_future_registration",
			mutate: func(c *experiments.UserContext) {
				c.Properties.RegistrationDate = daysAgo(-2)
			},
			rules: []experiments.TargetingRule{rule(experiments.CriteriaNewUser)},
			want:  false,
		},
		{
			name:   "returning_user",
			mutate: func(c *experiments.UserContext) {},
			rules:  []experiments.TargetingRule{rule(experiments.CriteriaReturningUser)},
			want:   true,
		},
		{
			name: "single_session_is_not_returning",
			mutate: func(c *experiments.UserContext) {
				c.Properties.Behavior.SessionCount = 1
			},
			rules: []experiments.TargetingRule{rule(experiments.CriteriaReturningUser)},
			want:  false,
		},
		{
			name: "premium_case_insensitive",
			mutate: func(c *experiments.UserContext) {
				c.Properties.SubscriptionTier = "Premium"
			},
			rules: []experiments.TargetingRule{rule(experiments.CriteriaPremiumUser)},
			want:  true,
		},
		{
			name: "mobile_user",
			mutate: func(c *experiments.UserContext) {
				c.Properties.Device.Type = "mobile"
			},
			rules: []experiments.TargetingRule{rule(experiments.CriteriaMobileUser)},
			want:  true,
		},
		{
			name:   "desktop_user",
			mutate: func(c *experiments.UserContext) {},
			rules:  []experiments.TargetingRule{rule(experiments.CriteriaDesktopUser)},
			want:   true,
		},
		{
			name:   "or_across_rules",
			mutate: func(c *experiments.UserContext) {},
			rules: []experiments.TargetingRule{
				rule(experiments.CriteriaNewUser),
				rule(experiments.CriteriaReturningUser),
			},
			want: true,
		},
		{
			name:   "no_rule_matches",
			mutate: func(c *experiments.UserContext) {},
			rules: []experiments.TargetingRule{
				rule(experiments.CriteriaNewUser),
				rule(experiments.CriteriaMobileUser),
			},
			want: false,
		},
		{
			name:   "and_within_rule_conditions_fail",
			mutate: func(c *experiments.UserContext) {},
			rules: []experiments.TargetingRule{{
				Criteria:   experiments.CriteriaReturningUser,
				Conditions: &experiments.RuleConditions{DeviceType: "mobile"},
			}},
			want: false,
		},
		{
			name:   "and_within_rule_conditions_pass",
			mutate: func(c *experiments.UserContext) {},
			rules: []experiments.TargetingRule{{
				Criteria: experiments.CriteriaReturningUser,
				Conditions: &experiments.RuleConditions{
					DeviceType: "desktop",
					Locations:  []string{"CA", "us"},
				},
			}},
			want: true,
		},
		{
			name:   "location_not_in_allow_list",
			mutate: func(c *experiments.UserContext) {},
			rules: []experiments.TargetingRule{{
				Criteria:   experiments.CriteriaAllUsers,
				Conditions: &experiments.RuleConditions{Locations: []string{"DE", "FR"}},
			}},
			want: false,
		},
		{
			name: "custom_attribute_equality",
			mutate: func(c *experiments.UserContext) {
				c.Properties.Custom = map[string]any{
					"plan_cohort": "2026-q1",
					"beta_opt_in": true,
					"coach_count": float64(3),
				}
			},
			rules: []experiments.TargetingRule{{
				Criteria: experiments.CriteriaAllUsers,
				Conditions: &experiments.RuleConditions{
					Attributes: map[string]string{
						"plan_cohort": "2026-q1",
						"beta_opt_in": "true",
						"coach_count": "3",
					},
				},
			}},
			want: true,
		},
		{
			name:   "custom_attribute_missing_is_non_match",
			mutate: func(c *experiments.UserContext) {},
			rules: []experiments.TargetingRule{{
				Criteria: experiments.CriteriaAllUsers,
				Conditions: &experiments.RuleConditions{
					Attributes: map[string]string{"plan_cohort": "2026-q1"},
				},
			}},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			userCtx := baseContext()
			tc.mutate(&userCtx)
			if got := MatchesAt(now, userCtx, tc.rules); got != tc.want {
				t.Fatalf("MatchesAt()=%v, want %v", got, tc.want)
			}
		})
	}
}
