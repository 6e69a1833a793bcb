package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shrike/internal/backend"
	"shrike/internal/filtermask"
	"shrike/internal/funcs"
	"shrike/internal/logical"
	"shrike/internal/physical"
	"shrike/internal/profile"
	"shrike/internal/view"
)

const accessTokenHeader = "X-Access-Token"

func callOptions(c *gin.Context, lp listParams) physical.Options {
	return physical.Options{
		Authorization: c.GetHeader(accessTokenHeader),
		Linkages:      lp.Linkages,
	}
}

// respondError maps the typed errors of the access stack onto HTTP
// statuses. Backend failures surface as 502: the request was valid, the
// storage behind it was not.
func respondError(c *gin.Context, err error) {
	var (
		ure *physical.UnroutableEntityError
		ae  *physical.AuthorizationError
		mre *logical.MissingRequiredAttributeError
		lre *logical.LinkageResolutionError
		uce *filtermask.UnknownComparatorError
		ufe *funcs.UnknownFunctionError
		uve *view.UnknownViewError
		ute *view.UnknownTopicError
		be  *backend.Error
	)
	switch {
	case errors.As(err, &ae):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &ure), errors.Is(err, logical.ErrNotFound),
		errors.As(err, &uve), errors.As(err, &ute):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &mre):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &lre), errors.As(err, &uce), errors.As(err, &ufe):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &be):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// parseKey converts the path id into the declared key type. Composite
// keys are not addressable over the path; those callers filter instead.
func parseKey(e *profile.Entity, raw string) any {
	keys := e.Keys()
	if len(keys) != 1 {
		return raw
	}
	attr, _ := e.Attribute(keys[0])
	switch attr.Type.Kind {
	case profile.KindInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case profile.KindFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}
