package shell

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
)

func TestRunCapturesOutput(t *testing.T) {
	result, err := Run(context.Background(), `echo "$GREETING"`, Options{
		Env: map[string]string{"GREETING": "hello world"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Stdout != "hello world\n" {
		t.Errorf("unexpected stdout %q", result.Stdout)
	}

	if result.Status != 0 || result.Failed() {
		t.Errorf("unexpected status %d", result.Status)
	}
}

func TestRunReportsExitStatus(t *testing.T) {
	result, err := Run(context.Background(), "echo broken >&2; exit 3", Options{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != 3 {
		t.Errorf("expected status 3, got %d", result.Status)
	}

	if !result.Failed() {
		t.Error("expected the result to count as failed")
	}
}

func TestSilentFailureIsNotFailed(t *testing.T) {
	result, err := Run(context.Background(), "exit 1", Options{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Failed() {
		t.Error("a non-zero status without diagnostics is not a failure")
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	_, err := Check(context.Background(), "echo 'fatal: bad revision' >&2; exit 128", Options{Dir: dir})

	var cmdErr *CommandError
	if !eris.As(err, &cmdErr) {
		t.Fatalf("expected a CommandError, got %v", err)
	}

	if cmdErr.Status != 128 || !strings.Contains(cmdErr.Stderr, "bad revision") {
		t.Errorf("unexpected error %+v", cmdErr)
	}
}

func TestEnvironOverrides(t *testing.T) {
	t.Setenv("DISTBUILD_TEST_VAR", "old")

	env := Environ(map[string]string{"DISTBUILD_TEST_VAR": "new"})
	count := 0
	for _, item := range env {
		if strings.HasPrefix(item, "DISTBUILD_TEST_VAR=") {
			count++
			if item != "DISTBUILD_TEST_VAR=new" {
				t.Errorf("unexpected entry %s", item)
			}
		}
	}

	if count != 1 {
		t.Errorf("expected exactly one entry, got %d", count)
	}
}

func TestParseError(t *testing.T) {
	_, err := Run(context.Background(), "echo 'unterminated", Options{})
	if err == nil {
		t.Error("expected a parse error")
	}
}
