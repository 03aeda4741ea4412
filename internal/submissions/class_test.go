package submissions

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Class
	}{
		{"0–Rejected", ClassDenied},
		{"1–Submitted", ClassPending},
		{"2–Approved", ClassApproved},
		{" 2-Shipped", ClassApproved},
		{"3–Other", ClassUnknown},
		{"2", ClassApproved},
		{"10–Escalated", ClassUnknown},
		{"21 - Later stage", ClassUnknown},
		{"Unknown", ClassUnknown},
		{"", ClassUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.raw); got != tt.want {
			t.Fatalf("Classify(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{"1–Submitted", "Submitted"},
		{"2 - Approved for grant", "Approved for grant"},
		{"0:Rejected", "Rejected"},
		{"2", ClassApproved.Description()},
		{"Unknown", "Unknown"},
		{"", ClassUnknown.Description()},
	}
	for _, tt := range tests {
		if got := Describe(tt.raw); got != tt.want {
			t.Fatalf("Describe(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
