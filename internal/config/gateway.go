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

const (
	MinCheckoutExpiry = 5 * time.Minute
	MaxCheckoutExpiry = 24 * time.Hour
)

// GatewaySettings is the merchant-facing configuration surface, owned by the
// platform's settings screen and consumed read-only here.
type GatewaySettings struct {
	APIKey            string `mapstructure:"apiKey"`
	HMACSecret        string `mapstructure:"hmacSecret"` // hex encoded
	TerminalID        string `mapstructure:"terminalId"`
	TokenTerminalID   string `mapstructure:"tokenTerminalId"`
	ManualCapture     bool   `mapstructure:"manualCapture"`
	SendLineItems     bool   `mapstructure:"sendLineItems"`
	CheckoutExpiryMin int    `mapstructure:"checkoutExpiryMinutes"`
	TestMode          bool   `mapstructure:"testMode"`
	ProductionBaseURL string `mapstructure:"productionBaseUrl"`
	MarkPaidCompleted bool   `mapstructure:"markPaidCompleted"`
	PublicBaseURL     string `mapstructure:"publicBaseUrl"`
	SuccessURL        string `mapstructure:"successUrl"`
	AbandonURL        string `mapstructure:"abandonUrl"`
	ThemeKey          string `mapstructure:"themeKey"`
	MerchantName      string `mapstructure:"merchantName"`
}

// CheckoutExpiry returns the configured session window clamped to the
// processor's allowed 5-minute to 24-hour range.
func (s GatewaySettings) CheckoutExpiry() time.Duration {
	d := time.Duration(s.CheckoutExpiryMin) * time.Minute
	if d < MinCheckoutExpiry {
		return MinCheckoutExpiry
	}
	if d > MaxCheckoutExpiry {
		return MaxCheckoutExpiry
	}
	return d
}

func DefaultGatewaySettings() GatewaySettings {
	return GatewaySettings{
		CheckoutExpiryMin: 60,
		TestMode:          true,
	}
}

// SettingsHolder exposes the current gateway settings and swaps them
// atomically when the config file changes on disk.
type SettingsHolder struct {
	current atomic.Value // holds GatewaySettings
}

func NewSettingsHolder(cfg Config) (*SettingsHolder, error) {
	v := viper.New()

	v.SetConfigName("gateway")
	v.SetConfigType("yml")
	if cfg.GatewayConfigPath != "" {
		v.AddConfigPath(cfg.GatewayConfigPath)
	}
	v.AddConfigPath("/etc/paygate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults apply whether or not a config file exists, so a file that
	// omits a key still gets the documented value.
	defaults := DefaultGatewaySettings()
	v.SetDefault("gateway.checkoutExpiryMinutes", defaults.CheckoutExpiryMin)
	v.SetDefault("gateway.testMode", defaults.TestMode)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// UnmarshalKey only writes fields present in the file, so starting from
	// the defaults keeps them for any omitted key.
	settings := DefaultGatewaySettings()
	if err := v.UnmarshalKey("gateway", &settings); err != nil {
		return nil, err
	}
	if err := validateGatewaySettings(settings); err != nil {
		return nil, err
	}

	holder := &SettingsHolder{}
	holder.current.Store(settings)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultGatewaySettings()
		if err := v.UnmarshalKey("gateway", &updated); err != nil {
			log.Printf("[gateway-config] reload failed: %v", err)
			return
		}
		if err := validateGatewaySettings(updated); err != nil {
			log.Printf("[gateway-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticSettingsHolder wraps fixed settings, for tests and embedded use.
func NewStaticSettingsHolder(settings GatewaySettings) *SettingsHolder {
	holder := &SettingsHolder{}
	holder.current.Store(settings)
	return holder
}

func (h *SettingsHolder) Get() GatewaySettings {
	return h.current.Load().(GatewaySettings)
}

func validateGatewaySettings(s GatewaySettings) error {
	if !s.TestMode && strings.TrimSpace(s.ProductionBaseURL) == "" {
		return errors.New("gateway.productionBaseUrl is required outside test mode")
	}
	return nil
}
