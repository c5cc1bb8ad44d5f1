package http

import (
	"errors"
	"net/http"

	"munireports/internal/config"
	apierrors "munireports/internal/errors"
	"munireports/internal/history"
	"munireports/internal/recipes"
	"munireports/internal/services"
)

// translateError maps service sentinels to API errors. Anything unknown is
// returned unchanged for the ErrorHandler to classify.
func translateError(err error, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrRunNotFound), errors.Is(err, history.ErrNotFound):
		return apierrors.RunNotFoundError(id)
	case errors.Is(err, services.ErrRunFinished):
		return apierrors.RunFinishedError(id)
	case errors.Is(err, services.ErrNoPairs):
		return apierrors.ErrValidation("cities", err.Error())
	case errors.Is(err, services.ErrInvalidYear):
		return apierrors.ErrValidation("years", err.Error())
	case errors.Is(err, services.ErrServiceClosed):
		return apierrors.ErrServiceUnavailable
	case errors.Is(err, config.ErrCityNotFound):
		return apierrors.NotFoundError("city")
	case errors.Is(err, recipes.ErrRecipeNotFound):
		return apierrors.NotFoundError("recipe")
	}
	return err
}

// workspaceError reports a missing workspace for a pair
func workspaceError(err error, city string, year int) error {
	if errors.Is(err, services.ErrWorkspaceNotFound) {
		return apierrors.WorkspaceNotFoundError(city, year)
	}
	return apierrors.NewWithDetails(http.StatusInternalServerError, apierrors.CodeInternalServer,
		"Could not open workspace", err.Error())
}
