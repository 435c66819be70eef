package services

import (
	"context"
	"errors"

	"github.com/hanko-field/product-options/internal/repositories"
)

var (
	// ErrCatalogNotFound indicates the product has no option catalog.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogInvalidInput indicates the caller supplied an invalid catalog.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogUnavailable indicates the catalog store cannot serve the request.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

var (
	// ErrSelectionInvalidInput indicates a malformed selection request.
	ErrSelectionInvalidInput = errors.New("selection service: invalid input")
	// ErrSelectionNotConfigured indicates the product offers no extra options.
	ErrSelectionNotConfigured = errors.New("selection service: product has no options")
	// ErrSelectionUnavailable indicates the catalog could not be loaded.
	ErrSelectionUnavailable = errors.New("selection service: unavailable")
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartNotFound indicates the requested cart line does not exist.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartConflict indicates a cart line with the same id already exists.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartUnavailable indicates the cart store cannot serve the request.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the order or its source cart line does not exist.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderForbidden indicates the actor may not read the order.
	ErrOrderForbidden = errors.New("order service: forbidden")
	// ErrOrderConflict indicates the freeze transaction lost a race and should be retried.
	ErrOrderConflict = errors.New("order service: conflict")
	// ErrOrderUnavailable indicates the order store cannot serve the request.
	ErrOrderUnavailable = errors.New("order service: unavailable")
)

// repoErrorSet maps repository categories onto one service's sentinels.
type repoErrorSet struct {
	notFound    error
	conflict    error
	unavailable error
}

func (s repoErrorSet) translate(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return s.notFound
		case repoErr.IsConflict():
			return s.conflict
		}
	}
	return s.unavailable
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
