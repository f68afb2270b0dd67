package domain

import "fmt"

// Exchange identifies the listing exchange.
type Exchange string

const (
	ExchangeMOEX Exchange = "MOEX"
)

// AssetClass identifies the instrument class.
type AssetClass string

const (
	ClassShare    AssetClass = "SHARE"
	ClassBond     AssetClass = "BOND"
	ClassFuture   AssetClass = "FUTURE"
	ClassOption   AssetClass = "OPTION"
	ClassCurrency AssetClass = "CURRENCY"
	ClassIndex    AssetClass = "INDEX"
)

// Instrument identifies a tradable asset. Lookup by (Exchange, Ticker) is
// unique. The JSON form doubles as the on-disk instrument descriptor.
type Instrument struct {
	Exchange  Exchange   `json:"exchange"`
	Class     AssetClass `json:"asset_class"`
	Ticker    string     `json:"ticker"`
	Figi      string     `json:"figi,omitempty"`
	UID       string     `json:"uid,omitempty"`
	Lot       int        `json:"lot"`
	PriceStep float64    `json:"price_step"`
	Name      string     `json:"name,omitempty"`
}

// ID returns the unique "EXCHANGE:TICKER" identity string.
func (i Instrument) ID() string {
	return fmt.Sprintf("%s:%s", i.Exchange, i.Ticker)
}

// Same reports identity equality by (exchange, ticker).
func (i Instrument) Same(other Instrument) bool {
	return i.Exchange == other.Exchange && i.Ticker == other.Ticker
}

// AssetRef is the compact identity persisted in asset lists and trade
// records: enough to re-resolve the full Instrument on load.
type AssetRef struct {
	Exchange Exchange   `json:"exchange"`
	Class    AssetClass `json:"asset_class"`
	Ticker   string     `json:"ticker"`
}

// Ref returns the instrument's compact identity.
func (i Instrument) Ref() AssetRef {
	return AssetRef{Exchange: i.Exchange, Class: i.Class, Ticker: i.Ticker}
}
