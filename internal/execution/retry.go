package execution

import (
	"context"
	"errors"
	"strings"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
)

// Remedy is the corrective action applied to a rejected order before the
// next attempt.
type Remedy int

const (
	// RemedyAbandon stops retrying.
	RemedyAbandon Remedy = iota
	// RemedyResend resubmits the same quantity (transport failures).
	RemedyResend
	// RemedyRefreshStep refetches instrument metadata and re-floors the quantity.
	RemedyRefreshStep
	// RemedyBumpMinNotional raises the quantity to the minimum-notional quantity.
	RemedyBumpMinNotional
	// RemedyShrink reduces the quantity by the policy's shrink fraction.
	RemedyShrink
)

func (r Remedy) String() string {
	switch r {
	case RemedyResend:
		return "resend"
	case RemedyRefreshStep:
		return "refresh_step"
	case RemedyBumpMinNotional:
		return "bump_min_notional"
	case RemedyShrink:
		return "shrink"
	default:
		return "abandon"
	}
}

// Rule maps a set of exchange codes to a remedy.
type Rule struct {
	Codes  []int
	Remedy Remedy
	// MessageContains, when set, restricts the rule to errors whose message
	// contains this substring (case-insensitive).
	MessageContains string
}

// RetryPolicy is the retry taxonomy shared by the entry and close paths.
type RetryPolicy struct {
	MaxAttempts int
	// ShrinkFraction is the share of quantity removed by RemedyShrink.
	ShrinkFraction float64
	Rules          []Rule
}

// DefaultRetryPolicy returns the taxonomy for Bybit linear perpetuals.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		ShrinkFraction: 0.15,
		Rules: []Rule{
			{Codes: []int{bybit.CodeParamError}, Remedy: RemedyRefreshStep, MessageContains: "qty"},
			{Codes: []int{bybit.CodeQtyPrecision, bybit.CodeQtyInvalid}, Remedy: RemedyRefreshStep},
			{Codes: []int{bybit.CodeBelowMinNotional, bybit.CodeOrderValueTooLow}, Remedy: RemedyBumpMinNotional},
			{
				Codes: []int{
					bybit.CodeInsufficientBalance,
					bybit.CodeQtyTooLarge,
					bybit.CodeInsufficientMargin,
					bybit.CodeBalanceNotEnough,
				},
				Remedy: RemedyShrink,
			},
		},
	}
}

// Classify maps an order error to the remedy the policy prescribes.
// Transport failures are resent; a cancelled context is never retried.
func (p RetryPolicy) Classify(err error) Remedy {
	if err == nil {
		return RemedyAbandon
	}
	if errors.Is(err, context.Canceled) {
		return RemedyAbandon
	}
	if bybit.IsTransport(err) {
		return RemedyResend
	}

	var apiErr *bybit.APIError
	if !errors.As(err, &apiErr) {
		return RemedyAbandon
	}
	msg := strings.ToLower(apiErr.Message)
	for _, rule := range p.Rules {
		if rule.MessageContains != "" && !strings.Contains(msg, strings.ToLower(rule.MessageContains)) {
			continue
		}
		for _, code := range rule.Codes {
			if code == apiErr.Code {
				return rule.Remedy
			}
		}
	}
	return RemedyAbandon
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}
