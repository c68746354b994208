package services_test

import (
	"errors"
	"testing"

	"conveyor/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("remote hung up")
	err := services.Wrap(services.ErrTransient, "rebase", "clone", "fetching sources", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.FailureClass
	}{
		{"transient", services.Wrap(services.ErrTransient, "test", "run", "", nil), services.FailureTransient},
		{"permanent", services.Wrap(services.ErrPermanent, "backport", "apply", "conflict", nil), services.FailurePermanent},
		{"ambiguous", services.Wrap(services.ErrAmbiguous, "triage", "decide", "", nil), services.FailureAmbiguous},
		{"validation", services.Wrap(services.ErrValidation, "release", "check", "", nil), services.FailurePermanent},
		{"unmarked", errors.New("boom"), services.FailureTransient},
		{"nil-marker-defaults-transient", services.Wrap(nil, "triage", "scan", "", nil), services.FailureTransient},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: got class %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestMessageStripsMarker(t *testing.T) {
	err := services.Wrap(services.ErrPermanent, "backport", "apply", "merge conflict in foo.c", nil)
	got := services.Message(err)
	if got != "backport: apply: merge conflict in foo.c" {
		t.Fatalf("unexpected message: %q", got)
	}
	if services.Message(nil) != "" {
		t.Fatal("expected empty message for nil error")
	}
}
