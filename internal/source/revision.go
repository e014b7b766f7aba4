// Package source resolves model identifiers to local checkpoint
// directories, downloading them from Hugging Face when allowed.
package source

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNotFound is returned when an identifier resolves to nothing.
	ErrNotFound = errors.New("model not found")

	// ErrInvalidID is returned for identifiers that are neither a local
	// directory nor a well-formed repository name.
	ErrInvalidID = errors.New("invalid model identifier")

	// ErrIncompatible is returned when no published revision serves the
	// requested lengths.
	ErrIncompatible = errors.New("no compatible revision")
)

// MainRevision is the default branch; for TTM r2 it holds the 512-96 model.
const MainRevision = "main"

var (
	// Context lengths with a published TTM r2 revision.
	revisionContexts = []int{512, 1024, 1536}
	// Forecast horizons with a published TTM r2 revision, ascending.
	revisionHorizons = []int{96, 192, 336, 720}
)

// SelectRevision picks the repository branch of a TTM r2 release.
//
// Each branch holds one model trained for a (context, horizon) pair. The
// context must match exactly; the horizon is the smallest one that covers
// the requested prediction length, and the loader narrows the rest.
//
//	SelectRevision(512, 96)   → "main"
//	SelectRevision(1024, 100) → "1024-192-r2"
func SelectRevision(context, prediction int) (string, error) {
	if !slices.Contains(revisionContexts, context) {
		return "", fmt.Errorf("%w: context length %d (supported %v)", ErrIncompatible, context, revisionContexts)
	}
	if prediction <= 0 {
		return "", fmt.Errorf("%w: prediction length %d", ErrIncompatible, prediction)
	}

	for _, h := range revisionHorizons {
		if h < prediction {
			continue
		}
		if context == revisionContexts[0] && h == revisionHorizons[0] {
			return MainRevision, nil
		}
		return fmt.Sprintf("%d-%d-r2", context, h), nil
	}
	return "", fmt.Errorf("%w: prediction length %d exceeds %d", ErrIncompatible, prediction, revisionHorizons[len(revisionHorizons)-1])
}
