package client

import (
	"context"

	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/pkg/auth"
)

// ContextIdentity implements service.IdentityProvider from the user context
// that auth.Middleware and auth.UnaryServerInterceptor attach to each request.
type ContextIdentity struct{}

var _ service.IdentityProvider = ContextIdentity{}

// CurrentPrincipal returns the authenticated caller, or an UNAUTHORIZED error
// when the request carried no valid token.
func (ContextIdentity) CurrentPrincipal(ctx context.Context) (service.Principal, error) {
	uc, err := auth.GetUserContext(ctx)
	if err != nil {
		return service.Principal{}, err
	}
	return service.Principal{ID: uc.UserID, DisplayName: uc.DisplayName}, nil
}
