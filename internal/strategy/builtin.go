package strategy

import "fmt"

// HoldStrategy never trades. It is the identity strategy used to verify
// that a run without trades produces perfectly aligned equity curves.
type HoldStrategy struct{}

func (HoldStrategy) ID() string   { return "hold" }
func (HoldStrategy) Name() string { return "Hold (identity)" }

func (HoldStrategy) OnBar(Context) Signal { return Hold() }

// SMACrossStrategy enters long when the fast SMA crosses above the slow SMA
// and exits on the reverse cross. Protective levels are ATR-derived.
type SMACrossStrategy struct {
	FastPeriod        int
	SlowPeriod        int
	ATRPeriod         int
	ATRStopMultiplier float64
	RiskRewardRatio   float64
}

// NewSMACross creates the strategy with the standard 10/30 calibration.
func NewSMACross() *SMACrossStrategy {
	return &SMACrossStrategy{
		FastPeriod:        10,
		SlowPeriod:        30,
		ATRPeriod:         14,
		ATRStopMultiplier: 2.0,
		RiskRewardRatio:   2.0,
	}
}

func (s *SMACrossStrategy) ID() string { return "sma_cross" }
func (s *SMACrossStrategy) Name() string {
	return fmt.Sprintf("SMA cross %d/%d", s.FastPeriod, s.SlowPeriod)
}

func (s *SMACrossStrategy) OnBar(ctx Context) Signal {
	if len(ctx.History) < s.SlowPeriod+1 {
		return Hold()
	}

	fast := SMA(ctx.History, s.FastPeriod)
	slow := SMA(ctx.History, s.SlowPeriod)
	prevFast := SMA(ctx.History[:len(ctx.History)-1], s.FastPeriod)
	prevSlow := SMA(ctx.History[:len(ctx.History)-1], s.SlowPeriod)

	crossedUp := prevFast <= prevSlow && fast > slow
	crossedDown := prevFast >= prevSlow && fast < slow

	if ctx.Position == nil && crossedUp {
		entry := ctx.Bar.Close
		atr := ATR(ctx.History, s.ATRPeriod)
		if atr <= 0 {
			return Hold()
		}
		stop := entry - atr*s.ATRStopMultiplier
		target := entry + atr*s.ATRStopMultiplier*s.RiskRewardRatio
		return Signal{
			Action:     ActionEnter,
			Side:       Buy,
			EntryPrice: entry,
			StopLoss:   stop,
			TakeProfit: target,
			Reason:     fmt.Sprintf("fast SMA %.2f crossed above slow %.2f", fast, slow),
		}
	}

	if ctx.Position != nil && crossedDown {
		return Signal{
			Action: ActionExit,
			Reason: fmt.Sprintf("fast SMA %.2f crossed below slow %.2f", fast, slow),
		}
	}

	return Hold()
}

// BreakoutStrategy buys a close above the highest high of the lookback
// window and trails the position with an ATR-scaled distance.
type BreakoutStrategy struct {
	Lookback          int
	ATRPeriod         int
	ATRStopMultiplier float64
	TrailMultiplier   float64
}

// NewBreakout creates the strategy with a 20-bar channel.
func NewBreakout() *BreakoutStrategy {
	return &BreakoutStrategy{
		Lookback:          20,
		ATRPeriod:         14,
		ATRStopMultiplier: 2.0,
		TrailMultiplier:   3.0,
	}
}

func (s *BreakoutStrategy) ID() string   { return "breakout" }
func (s *BreakoutStrategy) Name() string { return fmt.Sprintf("%d-bar breakout", s.Lookback) }

func (s *BreakoutStrategy) OnBar(ctx Context) Signal {
	if len(ctx.History) < s.Lookback+1 {
		return Hold()
	}

	if ctx.Position == nil {
		channelHigh := HighestHigh(ctx.History, s.Lookback)
		if channelHigh <= 0 || ctx.Bar.Close <= channelHigh {
			return Hold()
		}
		atr := ATR(ctx.History, s.ATRPeriod)
		if atr <= 0 {
			return Hold()
		}
		return Signal{
			Action:     ActionEnter,
			Side:       Buy,
			EntryPrice: ctx.Bar.Close,
			StopLoss:   ctx.Bar.Close - atr*s.ATRStopMultiplier,
			Reason:     fmt.Sprintf("close %.2f above %d-bar high %.2f", ctx.Bar.Close, s.Lookback, channelHigh),
		}
	}

	// Once in profit beyond one ATR, hand management to a trailing stop.
	atr := ATR(ctx.History, s.ATRPeriod)
	if atr > 0 && ctx.Position.MFE >= atr {
		return Signal{
			Action:           ActionTrailingStop,
			TrailingDistance: atr * s.TrailMultiplier,
			Reason:           "in profit, trailing",
		}
	}
	return Hold()
}
