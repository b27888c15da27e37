package pos

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tablepos/promptpay/promptpay"
	"github.com/tablepos/promptpay/qrimage"
)

var configEnv = []string{
	"POS_HOST", "POS_PORT", "POS_DATA_PATH", "SYSTEM_PROMPTPAY_ID", "SYSTEM_PROMPTPAY_KIND",
	"SYSTEM_MERCHANT_NAME", "SYSTEM_MERCHANT_CITY", "SUBSCRIPTION_MONTHLY", "SUBSCRIPTION_ANNUAL",
	"PUBLIC_URL", "QR_SCALE", "LOG_LEVEL",
}

func clearConfigEnv(t *testing.T) {
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestGetConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config, err := GetConfig()
	if err != nil {
		t.Fatalf("unexpected error getting config: %v", err)
	}

	if config.Host != "127.0.0.1" || config.Port != "8080" {
		t.Fatalf("unexpected address %v:%v", config.Host, config.Port)
	}
	expectedReceiver := Receiver{Id: DefaultSystemPromptPayId, Kind: promptpay.Phone}
	if config.SystemReceiver != expectedReceiver {
		t.Fatalf("expected receiver %+v but got %+v", expectedReceiver, config.SystemReceiver)
	}
	if config.SystemMerchantName != "UNIVERSAL POS" || config.SystemMerchantCity != "BANGKOK" {
		t.Fatalf("unexpected system merchant '%v' '%v'", config.SystemMerchantName, config.SystemMerchantCity)
	}
	if config.QRScale != qrimage.DefaultScale || config.LogLevel != Info {
		t.Fatalf("unexpected config %+v", config)
	}

	monthly := config.Plans[MonthlyPlan]
	if monthly.Days != 30 || !monthly.Price.Equal(decimal.NewFromInt(299)) {
		t.Fatalf("unexpected monthly plan %+v", monthly)
	}
	annual := config.Plans[AnnualPlan]
	if annual.Days != 365 || !annual.Price.Equal(decimal.NewFromInt(2990)) {
		t.Fatalf("unexpected annual plan %+v", annual)
	}
}

func TestGetConfig(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("POS_PORT", "9090")
	t.Setenv("SYSTEM_PROMPTPAY_ID", "1234567890123")
	t.Setenv("SYSTEM_PROMPTPAY_KIND", "national_id")
	t.Setenv("SUBSCRIPTION_MONTHLY", "349.50")
	t.Setenv("PUBLIC_URL", "https://pos.example.com/")
	t.Setenv("QR_SCALE", "4")
	t.Setenv("LOG_LEVEL", "debug")

	config, err := GetConfig()
	if err != nil {
		t.Fatalf("unexpected error getting config: %v", err)
	}

	if config.Port != "9090" {
		t.Fatalf("expected port 9090 but got %v", config.Port)
	}
	expectedReceiver := Receiver{Id: "1234567890123", Kind: promptpay.NationalID}
	if config.SystemReceiver != expectedReceiver {
		t.Fatalf("expected receiver %+v but got %+v", expectedReceiver, config.SystemReceiver)
	}
	if !config.Plans[MonthlyPlan].Price.Equal(decimal.RequireFromString("349.5")) {
		t.Fatalf("unexpected monthly price %v", config.Plans[MonthlyPlan].Price)
	}
	if config.PublicURL != "https://pos.example.com" {
		t.Fatalf("expected public url without trailing slash but got '%v'", config.PublicURL)
	}
	if config.QRScale != 4 || config.LogLevel != Debug {
		t.Fatalf("unexpected config %+v", config)
	}
}

func TestGetConfigInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SYSTEM_PROMPTPAY_KIND", "EMAIL"},
		{"SYSTEM_PROMPTPAY_ID", "none"},
		{"SUBSCRIPTION_MONTHLY", "free"},
		{"SUBSCRIPTION_ANNUAL", "-10"},
		{"QR_SCALE", "0"},
		{"LOG_LEVEL", "verbose"},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(test.key, test.value)
			if _, err := GetConfig(); err == nil {
				t.Fatalf("expected error for %v='%v'", test.key, test.value)
			}
		})
	}
}
