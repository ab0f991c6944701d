package rest

import (
	"context"

	"github.com/google/uuid"
)

type ctxKeyDeviceID struct{}
type ctxKeyAccount struct{}

type AuthContext struct {
	DeviceID uuid.UUID
	Account  string
}

func withAuth(ctx context.Context, a AuthContext) context.Context {
	ctx = context.WithValue(ctx, ctxKeyDeviceID{}, a.DeviceID)
	ctx = context.WithValue(ctx, ctxKeyAccount{}, a.Account)
	return ctx
}

func GetAuth(ctx context.Context) (AuthContext, bool) {
	did, ok := ctx.Value(ctxKeyDeviceID{}).(uuid.UUID)
	if !ok {
		return AuthContext{}, false
	}
	account, _ := ctx.Value(ctxKeyAccount{}).(string)

	return AuthContext{DeviceID: did, Account: account}, true
}
