package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestMirrorRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Mirror(&buf, WARN)
	t.Cleanup(func() { Mirror(nil, INFO) })

	Log(INFO, "compiler", "dropped")
	Logf(WARN, "library", "fetch %s failed", "effector")
	Log(ERROR, "", "boom")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("INFO entry mirrored at WARN threshold:\n%s", out)
	}
	if !strings.Contains(out, `[WARN] scope="library" fetch effector failed`) {
		t.Errorf("missing WARN entry:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR]") {
		t.Errorf("missing ERROR entry:\n%s", out)
	}
}

func TestLevelString(t *testing.T) {
	cases := map[LogLevel]string{
		DEBUG:        "DEBUG",
		INFO:         "INFO",
		WARN:         "WARN",
		ERROR:        "ERROR",
		LogLevel(42): "UNKNOWN",
	}
	for lvl, want := range cases {
		if got := lvl.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %q; want %q", int(lvl), got, want)
		}
	}
}
