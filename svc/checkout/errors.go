package checkout

import "errors"

var (
	ErrPlanNotPurchasable = errors.New("checkout: plan cannot be purchased with this provider")
	ErrAlreadySubscribed  = errors.New("checkout: user already has an active subscription")
	ErrNoSubscription     = errors.New("checkout: user has no subscription")
)
