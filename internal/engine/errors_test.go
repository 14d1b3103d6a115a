package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/updown/round-engine/internal/store"
)

func TestMapPairErr_DistinguishesMissingRecord(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
		not  error
	}{
		{"missing participant", fmt.Errorf("participant bob: %w", store.ErrParticipantNotFound), ErrNotRegistered, ErrRoundNotFound},
		{"missing round", fmt.Errorf("round 7: %w", store.ErrRoundNotFound), ErrRoundNotFound, ErrNotRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPairErr(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if errors.Is(got, tt.not) {
				t.Errorf("did not expect %v in %v", tt.not, got)
			}
			if !errors.Is(got, store.ErrNotFound) {
				t.Errorf("expected the store error to stay wrapped, got %v", got)
			}
		})
	}

	if mapPairErr(nil) != nil {
		t.Error("expected nil for nil")
	}
	other := errors.New("boom")
	if got := mapPairErr(other); got != other {
		t.Errorf("expected unrelated errors to pass through, got %v", got)
	}
}
