// Package explorer shapes node transaction records into display rows. Nothing
// here is persisted.
package explorer

import (
	"encoding/base64"
	"math/big"
	"sort"
	"strings"
	"time"

	"walletkit/core/address"
	"walletkit/core/cell"
	"walletkit/core/quote"
	"walletkit/core/transfer"
	"walletkit/core/units"
	"walletkit/network"
)

// Native is the asset used for plain value transfers.
var Native = quote.Asset{ID: quote.NativeAssetID, Symbol: "TON", Decimals: 9}

// Direction of a row relative to the owner.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// TransferLabel returns the explorer label for a transfer.
func TransferLabel(dir Direction, asset string) string {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		normalized = Native.Symbol
	}
	if dir == DirectionIn {
		return "Received " + normalized
	}
	return "Sent " + normalized
}

// Assets maps the owner's token wallets to the token they hold.
type Assets map[string]quote.Asset

// NewAssets normalises token wallet addresses. Unparseable keys are dropped.
func NewAssets(byWallet map[string]quote.Asset) Assets {
	out := make(Assets, len(byWallet))
	for k, v := range byWallet {
		a, err := address.Parse(k)
		if err != nil {
			continue
		}
		out[a.Raw()] = v
	}
	return out
}

func (a Assets) lookup(wallet string) (quote.Asset, bool) {
	parsed, err := address.Parse(wallet)
	if err != nil {
		return quote.Asset{}, false
	}
	asset, ok := a[parsed.Raw()]
	return asset, ok
}

// Row is one display line.
type Row struct {
	Time         time.Time `json:"time"`
	Label        string    `json:"label"`
	Direction    Direction `json:"direction"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	Counterparty string    `json:"counterparty,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	Hash         string    `json:"hash"`
}

// FormatHistory turns raw transactions into rows, newest first. Token
// movements are recognised when the message passes through a token wallet
// listed in assets; everything else is shown as native value.
func FormatHistory(owner *address.Address, txs []network.RawTransaction, assets Assets) []Row {
	var rows []Row
	for _, tx := range txs {
		at := time.Unix(tx.Time, 0).UTC()
		if in := tx.InMsg; in != nil && in.Source != "" && addressedTo(owner, in.Destination) {
			if row, ok := formatMessage(*in, DirectionIn, assets); ok {
				row.Time, row.Hash = at, tx.ID.Hash
				rows = append(rows, row)
			}
		}
		for _, out := range tx.OutMsg {
			if row, ok := formatMessage(out, DirectionOut, assets); ok {
				row.Time, row.Hash = at, tx.ID.Hash
				rows = append(rows, row)
			}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.After(rows[j].Time) })
	return rows
}

func addressedTo(owner *address.Address, dest string) bool {
	if owner == nil || dest == "" {
		return true
	}
	parsed, err := address.Parse(dest)
	return err == nil && parsed.Equal(owner)
}

func formatMessage(m network.RawMessage, dir Direction, assets Assets) (Row, bool) {
	peer := m.Source
	if dir == DirectionOut {
		peer = m.Destination
	}
	body := decodeBody(m.Data)
	if asset, ok := assets.lookup(peer); ok && body != nil {
		if moved, ok := transfer.DecodeTokenBody(body); ok && moved.Incoming == (dir == DirectionIn) {
			row := Row{
				Label:     TransferLabel(dir, asset.Symbol),
				Direction: dir,
				Asset:     asset.Symbol,
				Amount:    signed(dir, moved.Amount, asset.Decimals),
				Comment:   moved.Comment,
			}
			if moved.Counterparty != nil {
				row.Counterparty = moved.Counterparty.String()
			}
			return row, true
		}
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(m.Value), 10)
	if !ok || value.Sign() == 0 {
		return Row{}, false
	}
	comment := m.Comment
	if text, ok := transfer.DecodeComment(body); ok && comment == "" {
		comment = text
	}
	return Row{
		Label:        TransferLabel(dir, Native.Symbol),
		Direction:    dir,
		Asset:        Native.Symbol,
		Amount:       signed(dir, value, Native.Decimals),
		Counterparty: peer,
		Comment:      comment,
	}, true
}

func decodeBody(d *network.RawMessageData) *cell.Cell {
	if d == nil || d.Body == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(d.Body)
	if err != nil {
		return nil
	}
	c, err := cell.Deserialize(raw)
	if err != nil {
		return nil
	}
	return c
}

func signed(dir Direction, amount *big.Int, decimals int) string {
	s := units.FromUnits(amount, decimals)
	if dir == DirectionOut {
		return "-" + s
	}
	return "+" + s
}
