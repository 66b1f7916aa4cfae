package model

import "fmt"

// Urgency is the SLA urgency bucket of an order. Higher values are more
// severe so urgencies can be compared directly.
type Urgency int

const (
	UrgencyUnknown Urgency = iota
	UrgencyFlexible
	UrgencyNormal
	UrgencyUrgent
	UrgencyCritical
)

var urgencyNames = map[Urgency]string{
	UrgencyUnknown:  "unknown",
	UrgencyFlexible: "flexible",
	UrgencyNormal:   "normal",
	UrgencyUrgent:   "urgent",
	UrgencyCritical: "critical",
}

func (u Urgency) String() string {
	if s, ok := urgencyNames[u]; ok {
		return s
	}
	return fmt.Sprintf("urgency(%d)", int(u))
}

// MarshalText encodes the urgency by name.
func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText decodes an urgency name.
func (u *Urgency) UnmarshalText(b []byte) error {
	for k, v := range urgencyNames {
		if v == string(b) {
			*u = k
			return nil
		}
	}
	return fmt.Errorf("unknown urgency %q", string(b))
}
