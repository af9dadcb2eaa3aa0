package gateway

import "errors"

// Sentinel errors for the gateway domain, taxonomy per spec §7.
var (
	ErrAuthRequired        = errors.New("auth_required")
	ErrAuthInvalid         = errors.New("auth_invalid")
	ErrAuthMisconfigured   = errors.New("auth_misconfigured")
	ErrAuthUnauthorizedApp = errors.New("auth_unauthorized_app")
	ErrRateLimited         = errors.New("rate_limited")
	ErrSpendCapExceeded    = errors.New("spend_cap_exceeded")
	ErrValidationFailed    = errors.New("validation_failed")
	ErrKindNotFound        = errors.New("kind_not_found")
	ErrNoAPIKey            = errors.New("no_api_key")
	ErrProviderError       = errors.New("provider_error")
	ErrProviderTimeout     = errors.New("provider_timeout")
	ErrCapabilityDenied    = errors.New("capability_denied")
	ErrNotFound            = errors.New("not_found")
	ErrInternal            = errors.New("internal")
)

// Code is the machine-readable error code surfaced to clients (spec §7).
type Code string

const (
	CodeAuthRequired        Code = "auth_required"
	CodeAuthInvalid         Code = "auth_invalid"
	CodeAuthMisconfigured   Code = "auth_misconfigured"
	CodeAuthUnauthorizedApp Code = "auth_unauthorized_app"
	CodeRateLimited         Code = "rate_limited"
	CodeSpendCapExceeded    Code = "spend_cap_exceeded"
	CodeValidationFailed    Code = "validation_failed"
	CodeKindNotFound        Code = "kind_not_found"
	CodeNoAPIKey            Code = "no_api_key"
	CodeProviderError       Code = "provider_error"
	CodeProviderTimeout     Code = "provider_timeout"
	CodeCapabilityDenied    Code = "capability_denied"
	CodeNotFound            Code = "not_found"
	CodeInternal            Code = "internal"
)

// errInfo pairs a sentinel with its HTTP status and machine code.
type errInfo struct {
	status int
	code   Code
}

var errTable = map[error]errInfo{
	ErrAuthRequired:        {401, CodeAuthRequired},
	ErrAuthInvalid:         {401, CodeAuthInvalid},
	ErrAuthMisconfigured:   {500, CodeAuthMisconfigured},
	ErrAuthUnauthorizedApp: {401, CodeAuthUnauthorizedApp},
	ErrRateLimited:         {429, CodeRateLimited},
	ErrSpendCapExceeded:    {429, CodeSpendCapExceeded},
	ErrValidationFailed:    {400, CodeValidationFailed},
	ErrKindNotFound:        {400, CodeKindNotFound},
	ErrNoAPIKey:            {500, CodeNoAPIKey},
	ErrProviderError:       {500, CodeProviderError},
	ErrProviderTimeout:     {504, CodeProviderTimeout},
	ErrCapabilityDenied:    {403, CodeCapabilityDenied},
	ErrNotFound:            {404, CodeNotFound},
	ErrInternal:            {500, CodeInternal},
}

// HTTPStatus maps a domain sentinel error to its HTTP status code.
// Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	for sentinel, info := range errTable {
		if errors.Is(err, sentinel) {
			return info.status
		}
	}
	return 500
}

// ErrorCode maps a domain sentinel error to its machine-readable code.
// Unrecognized errors map to "internal".
func ErrorCode(err error) Code {
	for sentinel, info := range errTable {
		if errors.Is(err, sentinel) {
			return info.code
		}
	}
	return CodeInternal
}
