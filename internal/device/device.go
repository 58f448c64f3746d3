// Package device persists the device's identity and the last-known server
// values used to suppress spurious celebration effects after a reboot.
package device

import (
	"context"
	"strconv"

	"github.com/PocketPetLabs/petcore/internal/remote"
	"github.com/PocketPetLabs/petcore/pkg/economy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	namespaceDevice = "device"

	keyPaired      = "paired"
	keyDeviceID    = "deviceId"
	keyPairingCode = "pairingCode"
	keyPetName     = "petName"
	keyPetType     = "petType"
	keyUserName    = "userName"
	keyLastBalance = "lastBalance"
	keyLastCoins   = "lastCoins"
	keyLastPrice   = "lastPrice"

	pairingCodeLength = 6
	// No 0/O/I/1: the code is read off a small OLED and typed by hand.
	pairingCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Identity is the pairing state tying this device to a server account.
type Identity struct {
	Paired      bool
	DeviceID    string
	PairingCode string
	PetName     string
	PetType     string
	UserName    string
}

// Snapshot holds the last server-confirmed values persisted across reboots.
type Snapshot struct {
	Balance int64
	Coins   int64
	Price   float64
}

// Manager owns identity persistence.
type Manager struct {
	store     economy.Store
	logger    *zap.Logger
	identity  Identity
	lastKnown Snapshot
}

// NewManager wires a Manager.
func NewManager(store economy.Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, economy.ErrInvalidServiceConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}, nil
}

// Load restores identity and last-known values from the store.
func (manager *Manager) Load(ctx context.Context) error {
	paired, err := manager.store.GetInt64(ctx, namespaceDevice, keyPaired, 0)
	if err != nil {
		return economy.WrapError("device", "identity", "load", err)
	}
	deviceID, err := manager.store.GetString(ctx, namespaceDevice, keyDeviceID, "")
	if err != nil {
		return economy.WrapError("device", "identity", "load", err)
	}
	pairingCode, err := manager.store.GetString(ctx, namespaceDevice, keyPairingCode, "")
	if err != nil {
		return economy.WrapError("device", "identity", "load", err)
	}
	petName, err := manager.store.GetString(ctx, namespaceDevice, keyPetName, "")
	if err != nil {
		return economy.WrapError("device", "identity", "load", err)
	}
	petType, err := manager.store.GetString(ctx, namespaceDevice, keyPetType, "")
	if err != nil {
		return economy.WrapError("device", "identity", "load", err)
	}
	userName, err := manager.store.GetString(ctx, namespaceDevice, keyUserName, "")
	if err != nil {
		return economy.WrapError("device", "identity", "load", err)
	}
	balance, err := manager.store.GetInt64(ctx, namespaceDevice, keyLastBalance, 0)
	if err != nil {
		return economy.WrapError("device", "snapshot", "load", err)
	}
	coins, err := manager.store.GetInt64(ctx, namespaceDevice, keyLastCoins, 0)
	if err != nil {
		return economy.WrapError("device", "snapshot", "load", err)
	}
	priceRaw, err := manager.store.GetString(ctx, namespaceDevice, keyLastPrice, "0")
	if err != nil {
		return economy.WrapError("device", "snapshot", "load", err)
	}
	price, err := strconv.ParseFloat(priceRaw, 64)
	if err != nil {
		price = 0
	}

	manager.identity = Identity{
		Paired:      paired != 0,
		DeviceID:    deviceID,
		PairingCode: pairingCode,
		PetName:     petName,
		PetType:     petType,
		UserName:    userName,
	}
	manager.lastKnown = Snapshot{Balance: balance, Coins: coins, Price: price}
	return nil
}

// Identity returns the current identity.
func (manager *Manager) Identity() Identity {
	return manager.identity
}

// DeviceID returns the paired device id, empty when unpaired.
func (manager *Manager) DeviceID() string {
	return manager.identity.DeviceID
}

// LastKnown returns the persisted server snapshot.
func (manager *Manager) LastKnown() Snapshot {
	return manager.lastKnown
}

// EnsurePairingCode returns the displayable pairing code, generating and
// persisting one on first use.
func (manager *Manager) EnsurePairingCode(ctx context.Context) (string, error) {
	if manager.identity.PairingCode != "" {
		return manager.identity.PairingCode, nil
	}
	code := generatePairingCode()
	manager.identity.PairingCode = code
	if err := manager.store.PutString(ctx, namespaceDevice, keyPairingCode, code); err != nil {
		return "", economy.WrapError("device", "identity", "persist", err)
	}
	manager.logger.Info("pairing code generated", zap.String("pairing_code", code))
	return code, nil
}

// ApplyConfig absorbs a fetched device config, marking the device paired
// once the server has assigned it an id.
func (manager *Manager) ApplyConfig(ctx context.Context, config remote.DeviceConfig) error {
	if config.DeviceID != "" {
		manager.identity.DeviceID = config.DeviceID
		manager.identity.Paired = true
	}
	manager.identity.PetName = config.PetName
	manager.identity.PetType = config.PetType
	manager.identity.UserName = config.UserName
	return manager.save(ctx)
}

// RememberServerState persists the last server-confirmed balance, coins, and
// price so a reboot does not replay an already-celebrated payout.
func (manager *Manager) RememberServerState(ctx context.Context, balance int64, coins int64, price float64) error {
	manager.lastKnown = Snapshot{Balance: balance, Coins: coins, Price: price}
	err := manager.store.WithTx(ctx, func(ctx context.Context, txStore economy.Store) error {
		if err := txStore.PutInt64(ctx, namespaceDevice, keyLastBalance, balance); err != nil {
			return err
		}
		if err := txStore.PutInt64(ctx, namespaceDevice, keyLastCoins, coins); err != nil {
			return err
		}
		return txStore.PutString(ctx, namespaceDevice, keyLastPrice, strconv.FormatFloat(price, 'f', -1, 64))
	})
	if err != nil {
		return economy.WrapError("device", "snapshot", "persist", err)
	}
	return nil
}

// Clear wipes identity and snapshot. Factory reset only.
func (manager *Manager) Clear(ctx context.Context) error {
	if err := manager.store.ClearNamespace(ctx, namespaceDevice); err != nil {
		return economy.WrapError("device", "identity", "clear", err)
	}
	manager.identity = Identity{}
	manager.lastKnown = Snapshot{}
	return nil
}

func (manager *Manager) save(ctx context.Context) error {
	paired := int64(0)
	if manager.identity.Paired {
		paired = 1
	}
	err := manager.store.WithTx(ctx, func(ctx context.Context, txStore economy.Store) error {
		if err := txStore.PutInt64(ctx, namespaceDevice, keyPaired, paired); err != nil {
			return err
		}
		if err := txStore.PutString(ctx, namespaceDevice, keyDeviceID, manager.identity.DeviceID); err != nil {
			return err
		}
		if err := txStore.PutString(ctx, namespaceDevice, keyPairingCode, manager.identity.PairingCode); err != nil {
			return err
		}
		if err := txStore.PutString(ctx, namespaceDevice, keyPetName, manager.identity.PetName); err != nil {
			return err
		}
		if err := txStore.PutString(ctx, namespaceDevice, keyPetType, manager.identity.PetType); err != nil {
			return err
		}
		return txStore.PutString(ctx, namespaceDevice, keyUserName, manager.identity.UserName)
	})
	if err != nil {
		return economy.WrapError("device", "identity", "persist", err)
	}
	return nil
}

func generatePairingCode() string {
	seed := uuid.New()
	code := make([]byte, pairingCodeLength)
	for index := 0; index < pairingCodeLength; index++ {
		code[index] = pairingCodeAlphabet[int(seed[index])%len(pairingCodeAlphabet)]
	}
	return string(code)
}
