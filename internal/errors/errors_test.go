package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestDomainErrorMessage(t *testing.T) {
	err := New(CodeUnsupported, "wildcard import").WithContext(CtxModule, "pkg.util")
	got := err.Error()
	if !strings.Contains(got, "UNSUPPORTED_FEATURE") {
		t.Errorf("missing code in %q", got)
	}
	if !strings.Contains(got, "wildcard import") {
		t.Errorf("missing message in %q", got)
	}
	if !strings.Contains(got, "pkg.util") {
		t.Errorf("missing context in %q", got)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(CodeCycle, "cycle detected")
	outer := fmt.Errorf("merge: %w", inner)
	if !IsCode(outer, CodeCycle) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(outer, CodeNotFound) {
		t.Error("IsCode matched wrong code")
	}
	if IsCode(stderrors.New("plain"), CodeCycle) {
		t.Error("IsCode matched plain error")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("disk gone")
	err := Wrap(cause, CodeInternal, "load failed")
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not unwrappable")
	}
}

func TestAddContextOnPlainError(t *testing.T) {
	err := AddContext(stderrors.New("boom"), CtxPath, "a.py")
	var de *DomainError
	if !stderrors.As(err, &de) {
		t.Fatal("expected DomainError")
	}
	if de.Context[CtxPath] != "a.py" {
		t.Errorf("context = %v", de.Context)
	}
}
