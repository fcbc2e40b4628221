package version

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "1.4.2"
	if got := UserAgent(); got != "chainstream/1.4.2" {
		t.Errorf("UserAgent() = %q, want %q", got, "chainstream/1.4.2")
	}

	Version = "dev"
	if got := UserAgent(); !strings.HasPrefix(got, "chainstream/") {
		t.Errorf("UserAgent() = %q, want chainstream/ prefix", got)
	}
}
