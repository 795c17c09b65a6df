package core

import (
	"context"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

// Provider is the external telemetry platform.
//
// A non-nil error means the call never produced a provider answer (network,
// timeout, open circuit). A provider answer, successful or not, is carried by
// the tagged result.
type Provider interface {
	Authenticate(ctx context.Context, creds model.Credentials) (AuthResult, error)
	FetchPositions(ctx context.Context, deviceIDs []string, token string) (FetchResult, error)

	// TestConnectivity returns nil when token is accepted by the provider.
	TestConnectivity(ctx context.Context, token string) error
}

// AuthResult is either AuthOK or AuthErr.
type AuthResult interface {
	isAuthResult()
}

// AuthOK carries the newly issued session.
type AuthOK struct {
	Session model.Session
}

// AuthErr is a login rejected by the provider.
type AuthErr struct {
	Status int
	Cause  string
}

func (AuthOK) isAuthResult()  {}
func (AuthErr) isAuthResult() {}

// FetchResult is either FetchOK or FetchErr.
type FetchResult interface {
	isFetchResult()
}

// FetchOK carries the position records returned for the requested devices.
// Devices without a record are absent.
type FetchOK struct {
	Records []model.PositionFix
}

// FetchErr is a position request rejected by the provider.
type FetchErr struct {
	Status int
	Cause  string

	// Kind is KindAuthentication when the token was refused, KindAPI otherwise.
	Kind ErrorKind
}

func (FetchOK) isFetchResult()  {}
func (FetchErr) isFetchResult() {}
