package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/cashu/nuts/nut07"
	"github.com/elnosh/nutsack/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

// walletMint groups what the wallet keeps for each mint it uses.
type walletMint struct {
	client   MintAPI
	proofs   *ProofStore
	invoices *InvoiceLedger
	secrets  SecretGenerator
}

type Wallet struct {
	db     storage.WalletDB
	config Config
	logger *slog.Logger

	// current mint url
	currentMint string
	master      *hdkeychain.ExtendedKey
	keysets     *KeysetRegistry

	// held from reserving proofs of a mint until the result is committed
	locks keyedMutex

	mu        sync.Mutex
	mints     map[string]*walletMint
	newClient func(mintURL string) MintAPI
}

func InitStorage(path string) (storage.WalletDB, error) {
	// bolt db atm
	return storage.InitBolt(path)
}

func LoadWallet(config Config) (*Wallet, error) {
	config.setDefaults()

	if err := os.MkdirAll(config.WalletPath, 0700); err != nil {
		return nil, err
	}

	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	mintURL, err := normalizeMintURL(config.CurrentMintURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	seed, err := loadSeed(db, config.Mnemonic)
	if err != nil {
		db.Close()
		return nil, err
	}
	// same params as restore in other wallets so secrets match
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error deriving master key: %v", err)
	}

	wallet := &Wallet{
		db:          db,
		config:      config,
		logger:      config.Logger,
		currentMint: mintURL,
		master:      master,
		mints:       make(map[string]*walletMint),
	}
	wallet.newClient = func(mintURL string) MintAPI {
		return NewClient(mintURL, wallet.config)
	}
	wallet.keysets = NewKeysetRegistry(db, wallet.clientFor, wallet.logger)

	if _, err := wallet.mint(mintURL); err != nil {
		db.Close()
		return nil, err
	}

	wallet.logInfof("loaded wallet at '%v' with current mint '%v'", config.WalletPath, mintURL)
	return wallet, nil
}

// loadSeed returns the seed saved in the db or creates one
// from the mnemonic (or a new one if empty).
func loadSeed(db storage.WalletDB, mnemonic string) ([]byte, error) {
	storedMnemonic := db.GetMnemonic()
	if len(storedMnemonic) > 0 {
		if len(mnemonic) > 0 && mnemonic != storedMnemonic {
			return nil, errors.New("wallet already exists with a different mnemonic")
		}
		return db.GetSeed(), nil
	}

	if len(mnemonic) == 0 {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, fmt.Errorf("error generating seed: %v", err)
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("error generating seed: %v", err)
		}
	} else if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	if err := db.SaveMnemonicSeed(mnemonic, seed); err != nil {
		return nil, fmt.Errorf("error saving seed: %v", err)
	}
	return seed, nil
}

func normalizeMintURL(mintURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(mintURL))
	if err != nil {
		return "", fmt.Errorf("invalid mint url: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || len(parsed.Host) == 0 {
		return "", fmt.Errorf("invalid mint url '%v'", mintURL)
	}
	return strings.TrimSuffix(parsed.String(), "/"), nil
}

func (w *Wallet) clientFor(mintURL string) MintAPI {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wm, ok := w.mints[mintURL]; ok {
		return wm.client
	}
	return w.newClient(mintURL)
}

// mint returns the state for the mint, loading it on first use.
func (w *Wallet) mint(mintURL string) (*walletMint, error) {
	mintURL, err := normalizeMintURL(mintURL)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if wm, ok := w.mints[mintURL]; ok {
		return wm, nil
	}

	proofs, err := LoadProofStore(w.db, mintURL)
	if err != nil {
		return nil, err
	}

	var secrets SecretGenerator
	if w.config.RandomSecrets {
		secrets = randomSecrets{}
	} else {
		secrets = newDeterministicSecrets(w.master, w.db, mintURL)
	}

	wm := &walletMint{
		client:   w.newClient(mintURL),
		proofs:   proofs,
		invoices: NewInvoiceLedger(w.db, mintURL),
		secrets:  secrets,
	}
	w.mints[mintURL] = wm
	return wm, nil
}

func (w *Wallet) CurrentMint() string {
	return w.currentMint
}

// Mints returns the mints the wallet has data for.
func (w *Wallet) Mints() []string {
	mints := w.db.Mints()
	if !slices.Contains(mints, w.currentMint) {
		mints = append(mints, w.currentMint)
	}
	slices.Sort(mints)
	return mints
}

// GetBalance returns the balance available in the current mint.
func (w *Wallet) GetBalance() uint64 {
	balance, _ := w.GetBalanceByMint(w.currentMint)
	return balance
}

func (w *Wallet) GetBalanceByMint(mintURL string) (uint64, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return 0, err
	}
	return wm.proofs.Balance(), nil
}

func (w *Wallet) GetBalanceByMints() map[string]uint64 {
	balances := make(map[string]uint64)
	for _, mintURL := range w.Mints() {
		balance, err := w.GetBalanceByMint(mintURL)
		if err != nil {
			w.logErrorf("could not get balance for mint '%v': %v", mintURL, err)
			continue
		}
		balances[mintURL] = balance
	}
	return balances
}

// ReservedBalance is the amount of proofs held by operations in flight.
func (w *Wallet) ReservedBalance(mintURL string) (uint64, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return 0, err
	}
	return wm.proofs.ReservedBalance(), nil
}

// ReleaseProofs makes reserved proofs, like the send proofs of a split,
// available again. Proofs held by an operation in flight are not
// affected since the mint lock is held until that operation is done.
func (w *Wallet) ReleaseProofs(mintURL string, secrets []string) error {
	wm, err := w.mint(mintURL)
	if err != nil {
		return err
	}

	unlock := w.locks.Lock(wm.proofs.mintURL)
	defer unlock()

	wm.proofs.Release(secrets)
	return nil
}

// RemoveProofs deletes proofs from the wallet, e.g once the send
// proofs of a split have been handed to someone else.
func (w *Wallet) RemoveProofs(mintURL string, secrets []string) error {
	wm, err := w.mint(mintURL)
	if err != nil {
		return err
	}

	unlock := w.locks.Lock(wm.proofs.mintURL)
	defer unlock()

	return wm.proofs.Remove(secrets)
}

func (w *Wallet) Proofs(mintURL string) (cashu.Proofs, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}
	return wm.proofs.List(), nil
}

func (w *Wallet) Invoices(mintURL string) ([]Invoice, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}
	return wm.invoices.List(), nil
}

func (w *Wallet) PendingInvoices(mintURL string) ([]Invoice, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}
	return wm.invoices.Pending(), nil
}

func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

// Send takes proofs for exactly the amount from the current mint,
// splitting if needed, and returns them as a token. The proofs in the
// token are removed from the wallet.
func (w *Wallet) Send(ctx context.Context, amount uint64) (*cashu.TokenV3, error) {
	if amount == 0 {
		return nil, errors.New("cannot send zero amount")
	}

	mintURL := w.currentMint
	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	unlock := w.locks.Lock(mintURL)
	defer unlock()

	proofs, err := w.reserveExact(ctx, wm, mintURL, amount)
	if err != nil {
		return nil, withOp("send", err)
	}

	token, err := cashu.NewTokenV3(proofs, mintURL, cashu.Sat)
	if err != nil {
		wm.proofs.Release(proofs.Secrets())
		return nil, err
	}

	if err := wm.proofs.Remove(proofs.Secrets()); err != nil {
		wm.proofs.Release(proofs.Secrets())
		return nil, err
	}
	w.logInfof("sent %v from mint '%v'", amount, mintURL)

	return &token, nil
}

// Receive swaps the proofs in the token for new ones
// and stores them in the wallet. It returns the amount received.
func (w *Wallet) Receive(ctx context.Context, token cashu.Token) (uint64, error) {
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return 0, cashu.ErrEmptyToken
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return 0, errors.New("token has duplicate proofs")
	}

	mintURL, err := normalizeMintURL(token.Mint())
	if err != nil {
		return 0, err
	}
	wm, err := w.mint(mintURL)
	if err != nil {
		return 0, err
	}

	unlock := w.locks.Lock(mintURL)
	defer unlock()

	split, err := w.newSplitSession(mintURL, wm, proofs, 0, true)
	if err != nil {
		return 0, err
	}
	keep, _, err := split.run(ctx)
	if err != nil {
		return 0, withOp("receive", err)
	}

	amount := keep.Amount()
	w.logInfof("received %v from mint '%v'", amount, mintURL)
	return amount, nil
}

// reserveExact returns reserved proofs that add up to the amount.
// If no selection matches the amount, the selected proofs are split
// first. Must be called with the mint lock held.
func (w *Wallet) reserveExact(ctx context.Context, wm *walletMint, mintURL string, amount uint64) (cashu.Proofs, error) {
	selected, err := wm.proofs.Select(amount)
	if err != nil {
		return nil, err
	}

	if selected.Amount() == amount {
		if err := wm.proofs.Reserve(selected.Secrets()); err != nil {
			return nil, err
		}
		return selected, nil
	}

	split, err := w.newSplitSession(mintURL, wm, selected, amount, false)
	if err != nil {
		return nil, err
	}
	_, send, err := split.run(ctx)
	if err != nil {
		return nil, err
	}
	return send, nil
}

// RemoveSpentProofs asks the mint about the unreserved proofs
// and removes the ones already spent. It returns the amount removed.
func (w *Wallet) RemoveSpentProofs(ctx context.Context, mintURL string) (uint64, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return 0, err
	}

	unlock := w.locks.Lock(wm.proofs.mintURL)
	defer unlock()

	return w.removeSpent(ctx, wm, wm.proofs.Unreserved())
}

func (w *Wallet) removeSpent(ctx context.Context, wm *walletMint, proofs cashu.Proofs) (uint64, error) {
	if len(proofs) == 0 {
		return 0, nil
	}

	checkRequest := nut07.PostCheckRequest{Proofs: make([]nut07.ProofSecret, len(proofs))}
	for i, proof := range proofs {
		checkRequest.Proofs[i] = nut07.ProofSecret{Secret: proof.Secret}
	}

	checkResponse, err := wm.client.PostCheck(ctx, checkRequest)
	if err != nil {
		return 0, withOp("check proofs", err)
	}

	spent := []string{}
	var amount uint64
	for i, proof := range proofs {
		if !checkResponse.Spendable[i] {
			spent = append(spent, proof.Secret)
			amount += proof.Amount
		}
	}

	if err := wm.proofs.Remove(spent); err != nil {
		return 0, err
	}
	if len(spent) > 0 {
		w.logInfof("removed %v spent proofs worth %v", len(spent), amount)
	}
	return amount, nil
}

func (w *Wallet) Shutdown() error {
	return w.db.Close()
}

func (w *Wallet) logInfof(format string, args ...any) {
	w.logger.Info(fmt.Sprintf(format, args...))
}

func (w *Wallet) logDebugf(format string, args ...any) {
	w.logger.Debug(fmt.Sprintf(format, args...))
}

func (w *Wallet) logErrorf(format string, args ...any) {
	w.logger.Error(fmt.Sprintf(format, args...))
}
