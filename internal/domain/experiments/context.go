package experiments

import (
	"time"
)

// UserContext is supplied by the caller on every evaluation. The engine never
// fabricates identity and never persists the context beyond the assignment
// snapshot it produces.
type UserContext struct {
	UserID          string         `json:"user_id"`
	SessionID       string         `json:"session_id,omitempty"`
	IsAuthenticated bool           `json:"is_authenticated"`
	UserAgent       string         `json:"user_agent,omitempty"`
	Properties      UserProperties `json:"user_properties"`
}

type UserProperties struct {
	RegistrationDate *time.Time           `json:"registration_date,omitempty"`
	UserType         string               `json:"user_type,omitempty"`
	SubscriptionTier string               `json:"subscription_tier,omitempty"`
	Location         string               `json:"location,omitempty"`
	Device           DeviceInfo           `json:"device_info"`
	Behavior         BehavioralAttributes `json:"behavioral"`
	Custom           map[string]any       `json:"custom,omitempty"`
}

type DeviceInfo struct {
	Type    string `json:"type,omitempty"`
	OS      string `json:"os,omitempty"`
	Browser string `json:"browser,omitempty"`
}

type BehavioralAttributes struct {
	SessionCount    int        `json:"session_count"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	TotalBookings   int        `json:"total_bookings"`
	EngagementScore float64    `json:"engagement_score"`
}

// CustomAttribute looks up a caller-supplied custom attribute. The ok flag is
// false for both a missing key and an absent custom map; targeting treats
// either as a non-match rather than an error.
func (c UserContext) CustomAttribute(key string) (any, bool) {
	if c.Properties.Custom == nil {
		return nil, false
	}
	v, ok := c.Properties.Custom[key]
	return v, ok
}
