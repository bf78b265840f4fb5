package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FraudPolicy carries every threshold and point value used by the risk scorer.
// Amounts are expressed in minor currency units.
type FraudPolicy struct {
	RejectThreshold int `mapstructure:"rejectThreshold"`
	ReviewThreshold int `mapstructure:"reviewThreshold"`
	MaxScore        int `mapstructure:"maxScore"`

	Velocity  VelocityPolicy  `mapstructure:"velocity"`
	History   HistoryPolicy   `mapstructure:"history"`
	Amount    AmountPolicy    `mapstructure:"amount"`
	Methods   map[string]int  `mapstructure:"methods"`
	Duplicate DuplicatePolicy `mapstructure:"duplicate"`

	// PlatformMinimum mirrors DONATION_MIN_AMOUNT. It is not read from
	// fraud.yml so the near-minimum signal always tracks validation.
	PlatformMinimum int64 `mapstructure:"-"`
}

type VelocityPolicy struct {
	ContactWindow  time.Duration `mapstructure:"contactWindow"`
	ExtremeCount   int64         `mapstructure:"extremeCount"`
	ExtremePoints  int           `mapstructure:"extremePoints"`
	HighCount      int64         `mapstructure:"highCount"`
	HighPoints     int           `mapstructure:"highPoints"`
	ModerateCount  int64         `mapstructure:"moderateCount"`
	ModeratePoints int           `mapstructure:"moderatePoints"`
	OrgWindow      time.Duration `mapstructure:"orgWindow"`
	OrgSpikeCount  int64         `mapstructure:"orgSpikeCount"`
	OrgSpikePoints int           `mapstructure:"orgSpikePoints"`
}

type HistoryPolicy struct {
	Lookback            int   `mapstructure:"lookback"`
	NewDonorPoints      int   `mapstructure:"newDonorPoints"`
	PriorScoreThreshold int   `mapstructure:"priorScoreThreshold"`
	PriorFraudPoints    int   `mapstructure:"priorFraudPoints"`
	RefundHistoryCount  int64 `mapstructure:"refundHistoryCount"`
	RefundHistoryPoints int   `mapstructure:"refundHistoryPoints"`
	SingleRefundPoints  int   `mapstructure:"singleRefundPoints"`
	SpikeMinHistory     int   `mapstructure:"spikeMinHistory"`
	SpikeMultiplier     int64 `mapstructure:"spikeMultiplier"`
	SpikePoints         int   `mapstructure:"spikePoints"`
}

type AmountPolicy struct {
	RoundModulus   int64 `mapstructure:"roundModulus"`
	RoundCeiling   int64 `mapstructure:"roundCeiling"`
	RoundPoints    int   `mapstructure:"roundPoints"`
	MinimumEpsilon int64 `mapstructure:"minimumEpsilon"`
	MinimumPoints  int   `mapstructure:"minimumPoints"`
	LargeThreshold int64 `mapstructure:"largeThreshold"`
	LargePoints    int   `mapstructure:"largePoints"`
	PennyCentsMin  int64 `mapstructure:"pennyCentsMin"`
	PennyCentsMax  int64 `mapstructure:"pennyCentsMax"`
	PennyCeiling   int64 `mapstructure:"pennyCeiling"`
	PennyPoints    int   `mapstructure:"pennyPoints"`
}

type DuplicatePolicy struct {
	Window   time.Duration `mapstructure:"window"`
	MinCount int64         `mapstructure:"minCount"`
	Points   int           `mapstructure:"points"`
}

func DefaultFraudPolicy() FraudPolicy {
	return FraudPolicy{
		RejectThreshold: 70,
		ReviewThreshold: 40,
		MaxScore:        100,
		PlatformMinimum: 500,
		Velocity: VelocityPolicy{
			ContactWindow:  5 * time.Minute,
			ExtremeCount:   5,
			ExtremePoints:  30,
			HighCount:      3,
			HighPoints:     20,
			ModerateCount:  2,
			ModeratePoints: 10,
			OrgWindow:      time.Hour,
			OrgSpikeCount:  50,
			OrgSpikePoints: 15,
		},
		History: HistoryPolicy{
			Lookback:            10,
			NewDonorPoints:      5,
			PriorScoreThreshold: 40,
			PriorFraudPoints:    20,
			RefundHistoryCount:  2,
			RefundHistoryPoints: 15,
			SingleRefundPoints:  5,
			SpikeMinHistory:     3,
			SpikeMultiplier:     5,
			SpikePoints:         10,
		},
		Amount: AmountPolicy{
			RoundModulus:   10_000,
			RoundCeiling:   100_000,
			RoundPoints:    5,
			MinimumEpsilon: 100,
			MinimumPoints:  10,
			LargeThreshold: 1_000_000,
			LargePoints:    15,
			PennyCentsMin:  1,
			PennyCentsMax:  10,
			PennyCeiling:   1_000,
			PennyPoints:    8,
		},
		Methods: map[string]int{
			"card":   5,
			"crypto": 15,
			"other":  10,
		},
		Duplicate: DuplicatePolicy{
			Window:   10 * time.Minute,
			MinCount: 2,
			Points:   10,
		},
	}
}

// MethodPoints looks up the static risk for a payment method.
func (p FraudPolicy) MethodPoints(method string) int {
	return p.Methods[strings.ToLower(strings.TrimSpace(method))]
}

type FraudPolicyHolder struct {
	current atomic.Value // holds FraudPolicy
}

// NewFraudPolicyHolder loads fraud.yml and watches it for edits. When the
// file is absent the built-in defaults apply. Every snapshot carries the
// configured donation minimum.
func NewFraudPolicyHolder(appCfg Config) (*FraudPolicyHolder, error) {
	minimum := appCfg.Donation.MinimumAmount

	v := viper.New()

	v.SetConfigName("fraud")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/donorflow/config")
	v.AddConfigPath("/etc/donorflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DONORFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeFraudPolicy(v, minimum)
	if err != nil {
		return nil, err
	}

	holder := NewStaticFraudPolicy(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeFraudPolicy(v, minimum)
		if err != nil {
			log.Printf("[fraud-policy] reload failed: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[fraud-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticFraudPolicy wraps a fixed policy, mainly for tests.
func NewStaticFraudPolicy(p FraudPolicy) *FraudPolicyHolder {
	holder := &FraudPolicyHolder{}
	holder.current.Store(p)
	return holder
}

func (h *FraudPolicyHolder) Get() FraudPolicy {
	return h.current.Load().(FraudPolicy)
}

// decodeFraudPolicy overlays the file's "fraud" section on top of the
// defaults so a partial file only overrides what it names.
func decodeFraudPolicy(v *viper.Viper, minimum int64) (FraudPolicy, error) {
	cfg := DefaultFraudPolicy()
	if v.IsSet("fraud") {
		if err := v.UnmarshalKey("fraud", &cfg); err != nil {
			return FraudPolicy{}, err
		}
	}
	if minimum > 0 {
		cfg.PlatformMinimum = minimum
	}
	if err := validateFraudPolicy(cfg); err != nil {
		return FraudPolicy{}, err
	}
	return cfg, nil
}

func validateFraudPolicy(cfg FraudPolicy) error {
	if cfg.MaxScore <= 0 {
		return errors.New("fraud.maxScore must be positive")
	}
	if cfg.ReviewThreshold <= 0 || cfg.RejectThreshold <= cfg.ReviewThreshold {
		return errors.New("fraud thresholds must satisfy 0 < reviewThreshold < rejectThreshold")
	}
	if cfg.RejectThreshold > cfg.MaxScore {
		return errors.New("fraud.rejectThreshold cannot exceed maxScore")
	}
	if cfg.Velocity.ContactWindow <= 0 || cfg.Velocity.OrgWindow <= 0 || cfg.Duplicate.Window <= 0 {
		return errors.New("fraud windows must be positive")
	}
	if cfg.History.Lookback <= 0 {
		return errors.New("fraud.history.lookback must be positive")
	}
	if cfg.Amount.RoundModulus <= 0 {
		return errors.New("fraud.amount.roundModulus must be positive")
	}
	return nil
}
