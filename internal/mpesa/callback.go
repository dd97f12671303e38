package mpesa

import "akiba/internal/money"

// Callback is the provider's asynchronous settlement report. SettledAmount is
// a decimal string in whole currency units and may be absent on failures.
type Callback struct {
	CorrelationID     string  `json:"correlationId"`
	ResultCode        int     `json:"resultCode"`
	ResultDescription string  `json:"resultDescription"`
	SettledAmount     *string `json:"settledAmount,omitempty"`
	Phone             *string `json:"phone,omitempty"`
}

func (c Callback) Success() bool {
	return c.ResultCode == 0
}

// SettledMinor returns the settled amount in minor units, falling back to the
// requested amount when the provider omitted or mangled the field.
func (c Callback) SettledMinor(requestedMinor int64) int64 {
	if c.SettledAmount == nil {
		return requestedMinor
	}
	minor, err := money.ParseMinor(*c.SettledAmount)
	if err != nil {
		return requestedMinor
	}
	return minor
}

// Ack is the fixed acknowledgement body returned for every callback delivery,
// including duplicates and callbacks with no matching operation. Returning
// anything else makes the provider redeliver forever.
type Ack struct {
	ResultCode        int    `json:"resultCode"`
	ResultDescription string `json:"resultDescription"`
}

func AcceptedAck() Ack {
	return Ack{ResultCode: 0, ResultDescription: "Accepted"}
}
