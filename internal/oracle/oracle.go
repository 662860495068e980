// Package oracle turns raw, untrusted price-feed readings into conservative
// [min,max] price bands the settlement engine can act on.
//
// A band is resolved from a spot reading plus either an EMA reading (for
// volatile assets) or the $1.00 peg reference (for stable assets). Stale or
// non-positive readings fail the resolution outright; a wide spot/EMA
// divergence widens the band to the feed's confidence interval and, past the
// confidence bound, marks the band close-only so risk-increasing actions are
// blocked while closes and liquidations stay possible.
package oracle

import (
	"errors"
	"fmt"

	"github.com/perpetua/settlement-engine/internal/fixedpoint"
)

var (
	// ErrInvalidPrice is returned for stale primary feeds, non-positive
	// readings, and the unimplemented custom-feed fallback path.
	ErrInvalidPrice = errors.New("oracle: invalid oracle price")

	// ErrStalePrice is returned when a fallback feed record is older than
	// the configured maximum age.
	ErrStalePrice = errors.New("oracle: stale oracle price")

	// ErrInvalidAccount is returned when a feed reference cannot be read.
	ErrInvalidAccount = errors.New("oracle: invalid oracle account")
)

// FeedKind selects the price source wired to a custody.
type FeedKind uint8

const (
	// FeedNone marks an unconfigured oracle.
	FeedNone FeedKind = iota
	// FeedCustom marks a custody that may fall back to a self-published
	// feed record when the primary feed degrades.
	FeedCustom
	// FeedExternal marks a custody priced solely from the external feed.
	FeedExternal
)

func (k FeedKind) String() string {
	switch k {
	case FeedCustom:
		return "custom"
	case FeedExternal:
		return "external"
	default:
		return "none"
	}
}

// Reading is one raw observation from a price feed. The same shape carries
// both the spot and the EMA variant.
type Reading struct {
	Price       uint64 `json:"price"`
	Confidence  uint64 `json:"confidence"`
	Exponent    int32  `json:"exponent"`
	PublishTime int64  `json:"publish_time"`
}

// FallbackRecord is a persisted backup price source for custom-feed
// custodies. Resolution does not consume it yet (the fallback path hard
// fails); ReadFallback validates records so the data stays trustworthy for
// when the path is completed.
type FallbackRecord struct {
	Price       uint64 `json:"price"`
	Exponent    int32  `json:"exponent"`
	Confidence  uint64 `json:"confidence"`
	EMA         uint64 `json:"ema"`
	PublishTime int64  `json:"publish_time"`
}

// Config is the per-custody oracle policy.
type Config struct {
	FeedRef                   string   `json:"feed_ref"`
	FallbackFeedRef           string   `json:"fallback_feed_ref"`
	Kind                      FeedKind `json:"feed_kind"`
	MaxDifferenceThresholdBps uint64   `json:"max_difference_threshold_bps"`
	MaxPriceErrorBps          uint64   `json:"max_price_error_bps"`
	MaxPriceAgeSec            uint32   `json:"max_price_age_sec"`
}

// Band bounds an asset's price uncertainty at one instant. CloseOnly
// forbids risk-increasing actions while still permitting closes and forced
// liquidations.
type Band struct {
	Min       fixedpoint.Price
	Max       fixedpoint.Price
	CloseOnly bool
}

// Resolve reconciles a spot reading with its EMA variant (or the $1.00 peg
// reference for stable assets) into a conservative price band.
//
// now is supplied by the caller; the resolver never reads the wall clock.
func Resolve(cfg Config, now int64, spot, ema Reading, isStable bool) (Band, error) {
	if spot.Price == 0 {
		return Band{}, fmt.Errorf("%w: non-positive price from feed %s", ErrInvalidPrice, cfg.FeedRef)
	}

	stale := now-spot.PublishTime > int64(cfg.MaxPriceAgeSec)
	if stale {
		if cfg.Kind == FeedCustom {
			// Fallback feed path: not implemented. Hard failure, never a
			// silent success.
			return Band{}, fmt.Errorf("%w: custom fallback feed not implemented", ErrInvalidPrice)
		}
		return Band{}, fmt.Errorf("%w: feed %s is %ds old (max %ds)",
			ErrInvalidPrice, cfg.FeedRef, now-spot.PublishTime, cfg.MaxPriceAgeSec)
	}

	price := fixedpoint.New(spot.Price, spot.Exponent)

	if isStable {
		oneUnit, err := fixedpoint.CheckedPow10(uint32(-spot.Exponent))
		if err != nil {
			return Band{}, err
		}
		diffBps, err := priceDiffBps(spot.Price, oneUnit)
		if err != nil {
			return Band{}, err
		}
		if diffBps < cfg.MaxDifferenceThresholdBps {
			return Band{Min: price, Max: price}, nil
		}
		// Off peg: one bound pinned at $1.00, the other at the observed
		// price, whichever side of peg it sits on.
		peg := fixedpoint.New(oneUnit, spot.Exponent)
		if spot.Price < oneUnit {
			return Band{Min: price, Max: peg}, nil
		}
		return Band{Min: peg, Max: price}, nil
	}

	diffBps, err := priceDiffBps(spot.Price, ema.Price)
	if err != nil {
		return Band{}, err
	}
	if diffBps < cfg.MaxDifferenceThresholdBps {
		return Band{Min: price, Max: price}, nil
	}

	confBps, err := fixedpoint.MulDiv(spot.Confidence, fixedpoint.BpsPower, spot.Price)
	if err != nil {
		return Band{}, err
	}
	lo, err := fixedpoint.CheckedSub(spot.Price, spot.Confidence)
	if err != nil {
		return Band{}, err
	}
	hi, err := fixedpoint.CheckedAdd(spot.Price, spot.Confidence)
	if err != nil {
		return Band{}, err
	}
	band := Band{
		Min: fixedpoint.New(lo, spot.Exponent),
		Max: fixedpoint.New(hi, spot.Exponent),
	}
	if confBps < cfg.MaxPriceErrorBps {
		return band, nil
	}

	// Confidence too wide for normal operation: close-only. Custom-feed
	// custodies would switch to the fallback source here, which is not
	// implemented.
	band.CloseOnly = true
	if cfg.Kind == FeedCustom {
		return Band{}, fmt.Errorf("%w: custom fallback feed not implemented", ErrInvalidPrice)
	}
	return band, nil
}

// ValidateFallback checks a persisted fallback record against the config:
// age, non-zero price, and confidence within bounds. Returns the record's
// spot or EMA value as a fixed-point price.
func ValidateFallback(cfg Config, now int64, rec FallbackRecord, useEMA bool) (fixedpoint.Price, error) {
	if now-rec.PublishTime > int64(cfg.MaxPriceAgeSec) {
		return fixedpoint.Price{}, fmt.Errorf("%w: fallback record is %ds old (max %ds)",
			ErrStalePrice, now-rec.PublishTime, cfg.MaxPriceAgeSec)
	}
	price := rec.Price
	if useEMA {
		price = rec.EMA
	}
	if price == 0 {
		return fixedpoint.Price{}, fmt.Errorf("%w: fallback price is zero", ErrInvalidPrice)
	}
	confBps, err := fixedpoint.MulDiv(rec.Confidence, fixedpoint.BpsPower, price)
	if err != nil {
		return fixedpoint.Price{}, err
	}
	if confBps > cfg.MaxPriceErrorBps {
		return fixedpoint.Price{}, fmt.Errorf("%w: fallback confidence %d bps exceeds %d bps",
			ErrInvalidPrice, confBps, cfg.MaxPriceErrorBps)
	}
	return fixedpoint.New(price, rec.Exponent), nil
}

// priceDiffBps returns |a-b| * 10000 / a with integer truncation. The
// divergence is measured relative to the first operand, not symmetric.
func priceDiffBps(a, b uint64) (uint64, error) {
	diff := a - b
	if b > a {
		diff = b - a
	}
	return fixedpoint.MulDiv(diff, fixedpoint.BpsPower, a)
}
