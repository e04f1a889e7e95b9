package models

import (
	"testing"
	"time"
)

func TestParseLinkKind(t *testing.T) {
	tests := []struct {
		in   string
		want LinkKind
		ok   bool
	}{
		{"caregiver-patient", LinkKindCaregiver, true},
		{"CAREGIVER_PATIENT", LinkKindCaregiver, true},
		{"family-member", LinkKindFamily, true},
		{"FAMILY_MEMBER", LinkKindFamily, true},
		{"caregiver", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseLinkKind(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLinkKind(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hourLater := now.Add(time.Hour)
	hourEarlier := now.Add(-time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"future expiry", &hourLater, false},
		{"past expiry", &hourEarlier, true},
		{"exactly at expiry", &now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Link{Status: LinkStatusActive, ExpiresAt: tt.expiresAt}
			if got := l.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGrants(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name      string
		status    LinkStatus
		expiresAt *time.Time
		want      bool
	}{
		{"active no expiry", LinkStatusActive, nil, true},
		{"active future expiry", LinkStatusActive, &future, true},
		{"active past expiry", LinkStatusActive, &past, false},
		{"active at expiry instant", LinkStatusActive, &now, false},
		{"suspended", LinkStatusSuspended, nil, false},
		{"revoked", LinkStatusRevoked, nil, false},
		{"expired", LinkStatusExpired, nil, false},
		{"suspended future expiry", LinkStatusSuspended, &future, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Link{Status: tt.status, ExpiresAt: tt.expiresAt}
			if got := l.Grants(now); got != tt.want {
				t.Errorf("Grants = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToResponse(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	l := Link{Status: LinkStatusActive, ExpiresAt: &past}
	resp := l.ToResponse(now)
	if resp.IsActive {
		t.Error("stale ACTIVE past expiry must not report is_active")
	}
	if !resp.HasExpired {
		t.Error("expected is_expired true")
	}
}
