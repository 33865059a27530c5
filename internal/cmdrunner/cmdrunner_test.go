package cmdrunner

import "testing"

func TestGlobalNamespaceString(t *testing.T) {
	if Global().String() != "global" {
		t.Fatalf("expected \"global\", got %q", Global().String())
	}
}

func TestNamedNamespaceString(t *testing.T) {
	ns := Named("fc-ns3")
	if ns.String() != "fc-ns3" {
		t.Fatalf("expected \"fc-ns3\", got %q", ns.String())
	}
}

func TestRunInnerReturnsExitStatusWithoutError(t *testing.T) {
	r := New(nil)
	res, err := r.Run(Global(), "false")
	if err != nil {
		t.Fatalf("a nonzero exit must not be reported as an error, got: %v", err)
	}
	if res.Success() {
		t.Fatalf("expected a failed Result for `false`")
	}
	if res.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", res.ExitCode)
	}
}

func TestRunInnerSpawnFailureIsError(t *testing.T) {
	r := New(nil)
	_, err := r.Run(Global(), "this-binary-does-not-exist-anywhere")
	if err == nil {
		t.Fatalf("expected an error when the program cannot be spawned")
	}
}

func TestRunInnerSucceeds(t *testing.T) {
	r := New(nil)
	res, err := r.Run(Global(), "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success() {
		t.Fatalf("expected a successful Result")
	}
	if string(res.Output) != "hello\n" {
		t.Fatalf("expected \"hello\\n\", got %q", res.Output)
	}
}
