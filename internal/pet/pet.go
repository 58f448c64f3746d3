// Package pet holds the stat decay model: hunger and happiness attrition as
// a function of elapsed time, tolerant of a clock that is missing or has
// moved backwards.
package pet

import (
	"context"
	"time"

	"github.com/PocketPetLabs/petcore/pkg/economy"
	"go.uber.org/zap"
)

const (
	namespacePet = "pet"

	keyHappiness     = "happiness"
	keyFullness      = "fullness"
	keyLastSaveEpoch = "lastSaveEpoch"

	statDefault = 50
	statMax     = 100

	// decayTickThreshold spaces live decay applications; evaluation ticks
	// arriving sooner are no-ops.
	decayTickThreshold = 5 * time.Minute

	// starvingFullness is the bound under which low fullness compounds
	// unhappiness at the happiness decay rate.
	starvingFullness = 30

	sleepStartHour = 22
	sleepEndHour   = 6
)

// Mood labels shown by the UI.
const (
	MoodHungry  = "hungry"
	MoodHappy   = "happy"
	MoodSick    = "sick"
	MoodContent = "content"
)

// Stats is the pet's live state.
type Stats struct {
	Happiness int
	Fullness  int
	Sleeping  bool
}

// RTCFunc returns wall-clock time and whether the real-time clock is
// currently available (it is not until the first NTP sync).
type RTCFunc func() (time.Time, bool)

// Model computes and persists stat decay. Decay parameters start at the
// defaults and are replaced wholesale when a remote config arrives.
type Model struct {
	store      economy.Store
	now        func() time.Time
	rtc        RTCFunc
	config     economy.Config
	logger     *zap.Logger
	stats      Stats
	lastUpdate time.Time
}

// NewModel wires a Model. now must be monotonic (time.Now qualifies).
func NewModel(store economy.Store, now func() time.Time, rtc RTCFunc, logger *zap.Logger) (*Model, error) {
	if store == nil || now == nil || rtc == nil {
		return nil, economy.ErrInvalidServiceConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		store:  store,
		now:    now,
		rtc:    rtc,
		config: economy.DefaultConfig(),
		logger: logger,
		stats:  Stats{Happiness: statDefault, Fullness: statDefault},
	}, nil
}

// SetConfig replaces the decay parameters.
func (model *Model) SetConfig(config economy.Config) {
	model.config = config
}

// Config returns the current decay parameters.
func (model *Model) Config() economy.Config {
	return model.config
}

// Initialize loads persisted stats and applies offline decay for the time
// the device was powered off. Requires the RTC; without it (or with a clock
// that moved backwards) the catch-up is skipped, never reversed.
func (model *Model) Initialize(ctx context.Context) error {
	happiness, err := model.store.GetInt64(ctx, namespacePet, keyHappiness, statDefault)
	if err != nil {
		return economy.WrapError("pet", "stats", "load", err)
	}
	fullness, err := model.store.GetInt64(ctx, namespacePet, keyFullness, statDefault)
	if err != nil {
		return economy.WrapError("pet", "stats", "load", err)
	}
	lastSaveEpoch, err := model.store.GetInt64(ctx, namespacePet, keyLastSaveEpoch, 0)
	if err != nil {
		return economy.WrapError("pet", "stats", "load", err)
	}
	model.stats.Happiness = clampStat(int(happiness))
	model.stats.Fullness = clampStat(int(fullness))
	model.lastUpdate = model.now()

	if lastSaveEpoch <= 0 {
		return nil
	}
	wallClock, available := model.rtc()
	if !available {
		model.logger.Info("rtc unavailable, skipping offline decay")
		return nil
	}
	elapsedSeconds := wallClock.Unix() - lastSaveEpoch
	if elapsedSeconds < 0 {
		model.logger.Warn("clock moved backwards, skipping offline decay",
			zap.Int64("elapsed_seconds", elapsedSeconds))
		return nil
	}
	if elapsedSeconds == 0 {
		return nil
	}
	elapsedMinutes := elapsedSeconds / 60
	if model.applyDecay(elapsedMinutes) {
		model.logger.Info("offline decay applied",
			zap.Int64("elapsed_minutes", elapsedMinutes),
			zap.Int("happiness", model.stats.Happiness),
			zap.Int("fullness", model.stats.Fullness))
		return model.persist(ctx)
	}
	return nil
}

// Tick evaluates live decay. Driven externally every rendering pass; decay
// only applies once the 5-minute threshold has elapsed.
func (model *Model) Tick(ctx context.Context) error {
	model.updateSleepState()

	now := model.now()
	elapsed := now.Sub(model.lastUpdate)
	if elapsed <= decayTickThreshold {
		return nil
	}
	elapsedMinutes := int64(elapsed / time.Minute)
	changed := model.applyDecay(elapsedMinutes)
	model.lastUpdate = now
	if !changed {
		return nil
	}
	return model.persist(ctx)
}

// Feed refills the hunger bar by fullnessPercent, clamped to 100, and
// restarts decay from the post-feed state.
func (model *Model) Feed(ctx context.Context, fullnessPercent int) error {
	model.stats.Fullness = clampStat(model.stats.Fullness + fullnessPercent)
	model.lastUpdate = model.now()
	return model.persist(ctx)
}

// Play raises happiness by happinessBonus, clamped to 100, and restarts
// decay from the post-game state.
func (model *Model) Play(ctx context.Context, happinessBonus int) error {
	model.stats.Happiness = clampStat(model.stats.Happiness + happinessBonus)
	model.lastUpdate = model.now()
	return model.persist(ctx)
}

// Stats returns the current stats.
func (model *Model) Stats() Stats {
	return model.stats
}

// Mood maps stats to the label the face renderer uses.
func (model *Model) Mood() string {
	switch {
	case model.stats.Fullness < 20:
		return MoodHungry
	case model.stats.Happiness > 70 && model.stats.Fullness > 70:
		return MoodHappy
	case model.stats.Happiness < 30 || model.stats.Fullness < 30:
		return MoodSick
	default:
		return MoodContent
	}
}

// Reset restores defaults and clears persistence. Factory reset only.
func (model *Model) Reset(ctx context.Context) error {
	if err := model.store.ClearNamespace(ctx, namespacePet); err != nil {
		return economy.WrapError("pet", "stats", "clear", err)
	}
	model.stats = Stats{Happiness: statDefault, Fullness: statDefault}
	model.lastUpdate = model.now()
	return nil
}

// applyDecay reduces both stats for elapsedMinutes of neglect and reports
// whether anything changed. Decay is monotone non-increasing and floors at
// zero; non-positive elapsed time changes nothing.
func (model *Model) applyDecay(elapsedMinutes int64) bool {
	if elapsedMinutes <= 0 {
		return false
	}
	config := model.config
	fullnessBefore := model.stats.Fullness
	happinessBefore := model.stats.Happiness

	model.stats.Fullness = floorStat(model.stats.Fullness - int(float64(elapsedMinutes)*config.HungerPerMinute()))
	model.stats.Happiness = floorStat(model.stats.Happiness - int(float64(elapsedMinutes)*config.HappinessPerMinute()))
	if model.stats.Fullness < starvingFullness {
		// Starving compounds unhappiness.
		model.stats.Happiness = floorStat(model.stats.Happiness - int(float64(elapsedMinutes)*config.HappinessPerMinute()))
	}
	return model.stats.Fullness != fullnessBefore || model.stats.Happiness != happinessBefore
}

func (model *Model) updateSleepState() {
	wallClock, available := model.rtc()
	if !available {
		// Keep the previous sleep state rather than guessing.
		return
	}
	hour := wallClock.Hour()
	model.stats.Sleeping = hour >= sleepStartHour || hour <= sleepEndHour
}

// persist writes stats together with the wall-clock epoch (0 when the RTC is
// unavailable) so offline elapsed time can be reconstructed after a reboot.
func (model *Model) persist(ctx context.Context) error {
	var epoch int64
	if wallClock, available := model.rtc(); available {
		epoch = wallClock.Unix()
	}
	err := model.store.WithTx(ctx, func(ctx context.Context, txStore economy.Store) error {
		if err := txStore.PutInt64(ctx, namespacePet, keyHappiness, int64(model.stats.Happiness)); err != nil {
			return err
		}
		if err := txStore.PutInt64(ctx, namespacePet, keyFullness, int64(model.stats.Fullness)); err != nil {
			return err
		}
		return txStore.PutInt64(ctx, namespacePet, keyLastSaveEpoch, epoch)
	})
	if err != nil {
		return economy.WrapError("pet", "stats", "persist", err)
	}
	return nil
}

func clampStat(value int) int {
	if value < 0 {
		return 0
	}
	if value > statMax {
		return statMax
	}
	return value
}

func floorStat(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
