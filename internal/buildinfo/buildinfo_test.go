package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo_HasEveryField(t *testing.T) {
	info := Info()
	if len(info) != len(Fields) {
		t.Errorf("Info() has %d keys, Fields lists %d", len(info), len(Fields))
	}
	for _, k := range Fields {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
	if info["go_version"] != runtime.Version() {
		t.Errorf("go_version = %q", info["go_version"])
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, Name+" "+Version+" ") {
		t.Errorf("String() = %q, want it to lead with name and version", s)
	}
	if !strings.Contains(s, GitCommit+"@"+GitBranch) {
		t.Errorf("String() = %q, missing commit@branch", s)
	}
}
