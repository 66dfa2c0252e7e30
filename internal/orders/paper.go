package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperSlippagePct is the synchronous fill slippage applied to the
// reference price on every simulated fill.
const PaperSlippagePct = "0.0005" // 0.05%

// PaperBackend fills every order synchronously at LimitPrice*(1+slippage)
// and maintains a process-local cash ledger, persisted to disk after
// every change so a restart can reconcile against it.
type PaperBackend struct {
	mu          sync.Mutex
	cash        decimal.Decimal
	slippage    decimal.Decimal
	ledgerPath  string
	now         func() time.Time
}

// NewPaperBackend creates a paper trading backend seeded with
// startingCash, persisting its ledger to ledgerPath after each fill. An
// existing ledger at that path wins over startingCash, so a restart
// resumes the balance the previous run left behind.
func NewPaperBackend(startingCash float64, ledgerPath string) *PaperBackend {
	p := &PaperBackend{
		cash:       decimal.NewFromFloat(startingCash),
		slippage:   decimal.RequireFromString(PaperSlippagePct),
		ledgerPath: ledgerPath,
		now:        time.Now,
	}
	if ledgerPath != "" {
		if restored, ok := loadLedger(ledgerPath); ok {
			p.cash = restored
		}
	}
	return p
}

func loadLedger(path string) (decimal.Decimal, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return decimal.Zero, false
	}
	var doc ledgerDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return decimal.Zero, false
	}
	cash, err := decimal.NewFromString(doc.Cash)
	if err != nil {
		return decimal.Zero, false
	}
	return cash, true
}

// Place fills synchronously at the slipped reference price and debits
// the ledger; a real broker never rejects a paper order for liquidity.
func (p *PaperBackend) Place(ctx context.Context, req Request) (Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fillPrice := decimal.NewFromFloat(req.LimitPrice).Mul(decimal.NewFromInt(1).Add(p.slippage))
	cost := fillPrice.Mul(decimal.NewFromInt(int64(req.Qty)))
	p.cash = p.cash.Sub(cost)

	if p.ledgerPath != "" {
		if err := p.persistLocked(); err != nil {
			return Ack{}, fmt.Errorf("orders: persist paper ledger: %w", err)
		}
	}

	price, _ := fillPrice.Round(2).Float64()
	return Ack{
		OrderID:     uuid.NewString(),
		Status:      StatusFilled,
		FilledQty:   req.Qty,
		FilledPrice: price,
		Timestamp:   p.now(),
	}, nil
}

// AddFunds credits amount to the paper ledger and persists the change,
// for the operator `addFunds` command.
func (p *PaperBackend) AddFunds(amount float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = p.cash.Add(decimal.NewFromFloat(amount))
	if p.ledgerPath != "" {
		return p.persistLocked()
	}
	return nil
}

// Cash returns the current ledger balance.
func (p *PaperBackend) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, _ := p.cash.Float64()
	return f
}

type ledgerDoc struct {
	Cash      string    `json:"cash"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PaperBackend) persistLocked() error {
	doc := ledgerDoc{Cash: p.cash.String(), UpdatedAt: p.now()}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(p.ledgerPath, b)
}

// writeFileAtomic writes data to a temp file in the same directory as
// path, then renames it into place so readers never see a partial write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
