package domain

// Side is the exchange order side.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// TriggerBy selects the reference price for conditional orders.
type TriggerBy string

const (
	TriggerMark TriggerBy = "MarkPrice"
	TriggerLast TriggerBy = "LastPrice"
)

// OrderFilter scopes a cancel-all request.
type OrderFilter string

const (
	FilterAll       OrderFilter = ""
	FilterOrder     OrderFilter = "Order"
	FilterStopOrder OrderFilter = "StopOrder"
	FilterTPSL      OrderFilter = "tpslOrder"
)

// CloseReason records why a position left the ledger.
type CloseReason string

const (
	CloseStopBreach   CloseReason = "stop_breach"
	CloseMaxLoss      CloseReason = "max_loss"
	CloseSignalExit   CloseReason = "signal_exit"
	CloseExternal     CloseReason = "external"
	CloseTakeProfit   CloseReason = "take_profit"
	CloseReconcileGap CloseReason = "reconcile_gap"
)
