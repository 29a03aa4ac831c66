package ledger

import (
	"fmt"
	"math"

	"github.com/aristath/horizon/internal/domain"
)

// quantityEpsilon absorbs float64 noise when comparing unit quantities.
const quantityEpsilon = 1e-9

// buyLot appends a buy to the asset's transaction log and increases the held
// quantity. amount is the currency value spent at the current price.
func buyLot(a *domain.Asset, month int, amount float64) domain.Transaction {
	quantity := amount / a.Price
	tx := domain.Transaction{
		Month:    month,
		Kind:     domain.TransactionBuy,
		Quantity: quantity,
		Price:    a.Price,
	}
	a.Transactions = append(a.Transactions, tx)
	a.Quantity += quantity
	return tx
}

// sellLots matches a sale against the oldest open buy lots (FIFO) and returns
// the realized gain (proceeds minus consumed cost basis) together with the
// appended sell transaction.
//
// The log is never rewritten: consumption advances LotCursor and LotConsumed
// only. All state mutation happens after the full match succeeds, so a failed
// sale leaves the asset untouched.
func sellLots(a *domain.Asset, month int, quantity float64) (float64, domain.Transaction, error) {
	if quantity <= 0 {
		return 0, domain.Transaction{}, fmt.Errorf("asset %s: non-positive sell quantity %v", a.ID, quantity)
	}
	if quantity > a.Quantity+quantityEpsilon {
		return 0, domain.Transaction{}, fmt.Errorf("asset %s: selling %v of %v held: %w",
			a.ID, quantity, a.Quantity, domain.ErrInsufficientLotQuantity)
	}

	cursor := a.LotCursor
	consumed := a.LotConsumed
	remaining := quantity
	costBasis := 0.0

	for remaining > quantityEpsilon {
		if cursor >= len(a.Transactions) {
			return 0, domain.Transaction{}, fmt.Errorf("asset %s: %w", a.ID, domain.ErrNoCostBasisAvailable)
		}
		lot := a.Transactions[cursor]
		if lot.Kind != domain.TransactionBuy {
			cursor++
			consumed = 0
			continue
		}
		available := lot.Quantity - consumed
		if available <= quantityEpsilon {
			cursor++
			consumed = 0
			continue
		}
		take := math.Min(available, remaining)
		costBasis += take * lot.Price
		consumed += take
		remaining -= take
	}

	tx := domain.Transaction{
		Month:    month,
		Kind:     domain.TransactionSell,
		Quantity: quantity,
		Price:    a.Price,
	}
	a.Transactions = append(a.Transactions, tx)
	a.Quantity -= quantity
	if a.Quantity < quantityEpsilon {
		a.Quantity = 0
	}
	a.LotCursor = cursor
	a.LotConsumed = consumed

	return quantity*a.Price - costBasis, tx, nil
}
