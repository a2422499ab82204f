package handler

import "github.com/sakif/pyrelay/internal/apperror"

var (
	errGitHubDisabled   = apperror.Unavailable("GitHub login is not configured")
	errBadOAuthState    = apperror.ValidationFailed("state", "invalid OAuth state")
	errMissingOAuthCode = apperror.ValidationFailed("code", "missing OAuth code")
)
