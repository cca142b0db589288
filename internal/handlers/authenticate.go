package handlers

import (
	"log/slog"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/auth"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

// Authenticate resolves the caller's account from the Authorization header.
// A nil authenticator assigns the default account to every request.
func Authenticate(authenticator *auth.Authenticator, defaults config.DefaultsConfig) chain.RequestHandler {
	return chain.RequestHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, _ *chain.Response) error {
		if authenticator == nil {
			return ctx.Set(chain.AttrAccount, defaults.Account)
		}

		req := ctx.Request()
		if req == nil {
			return domain.ErrAuthentication("missing credentials")
		}

		credential, err := auth.ExtractAPIKey(req)
		if err != nil {
			return domain.ErrAuthentication(err.Error())
		}

		account, err := authenticator.Authenticate(credential)
		if err != nil {
			c.Logger().Debug("authentication failed",
				slog.String("request_id", ctx.RequestID()),
				slog.String("error", err.Error()))
			return domain.ErrAuthentication("the security token included in the request is invalid")
		}
		return ctx.Set(chain.AttrAccount, account)
	})
}
