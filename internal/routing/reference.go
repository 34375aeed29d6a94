package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	ReferencePrefix      = "PAY-"
	maxReferenceAttempts = 5
)

// NewReference returns PAY- followed by 16 random hex characters.
func NewReference() string {
	return ReferencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

type referenceChecker interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

// uniqueReference draws references until one is not in use.
func uniqueReference(ctx context.Context, st referenceChecker, gen func() string) (string, error) {
	for i := 0; i < maxReferenceAttempts; i++ {
		ref := gen()
		exists, err := st.ReferenceExists(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("reference lookup failed: %w", err)
		}
		if !exists {
			return ref, nil
		}
	}
	return "", fmt.Errorf("no unused reference after %d attempts", maxReferenceAttempts)
}
