package ui

import (
	"strings"
	"testing"
)

func TestDetectTheme(t *testing.T) {
	t.Setenv("COLORFGBG", "")
	t.Setenv("YEWCHAT_DARK_MODE", "1")
	if !DetectTheme().IsDark {
		t.Fatalf("expected dark theme when YEWCHAT_DARK_MODE=1")
	}

	t.Setenv("YEWCHAT_DARK_MODE", "")
	if DetectTheme().IsDark {
		t.Fatalf("expected light theme when nothing hints otherwise")
	}

	t.Setenv("COLORFGBG", "15;0")
	if !DetectTheme().IsDark {
		t.Fatalf("expected dark theme for COLORFGBG=15;0")
	}

	t.Setenv("COLORFGBG", "0;15")
	if DetectTheme().IsDark {
		t.Fatalf("expected light theme for COLORFGBG=0;15")
	}
}

func TestBadgeForUsesAssignedColor(t *testing.T) {
	s := NewStyles(LightTheme())
	badge := s.BadgeFor("203", "AB")
	if !strings.Contains(badge, "AB") {
		t.Fatalf("badge %q does not contain the initials", badge)
	}
}

func TestRenderDivider(t *testing.T) {
	s := NewStyles(DarkTheme())
	if got := s.RenderDivider(0); got != "" {
		t.Fatalf("expected empty divider for width 0, got %q", got)
	}
	if got := s.RenderDivider(-3); got != "" {
		t.Fatalf("expected empty divider for negative width, got %q", got)
	}
	if got := s.RenderDivider(4); !strings.Contains(got, "────") {
		t.Fatalf("divider %q missing rule characters", got)
	}
}
