package pos

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tablepos/promptpay/promptpay"
	"github.com/tablepos/promptpay/qrimage"
)

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

const (
	DefaultSystemPromptPayId   = "0812345678"
	DefaultSystemMerchantName  = "UNIVERSAL POS"
	DefaultSystemMerchantCity  = "BANGKOK"
	DefaultSubscriptionMonthly = "299.00"
	DefaultSubscriptionAnnual  = "2990.00"

	MonthlyPlan = "MONTHLY"
	AnnualPlan  = "ANNUAL"
)

type Config struct {
	Host     string
	Port     string
	DataPath string

	// receives subscription payments and order payments
	// of shops without PromptPay settings
	SystemReceiver     Receiver
	SystemMerchantName string
	SystemMerchantCity string

	Plans map[string]Plan

	// base URL of the public table ordering page
	PublicURL string
	QRScale   int
	LogLevel  LogLevel
}

type Receiver struct {
	Id   string
	Kind promptpay.IdentifierKind
}

type Plan struct {
	Code  string
	Days  int
	Price decimal.Decimal
}

func DefaultPlans() map[string]Plan {
	return map[string]Plan{
		MonthlyPlan: {Code: MonthlyPlan, Days: 30, Price: decimal.RequireFromString(DefaultSubscriptionMonthly)},
		AnnualPlan:  {Code: AnnualPlan, Days: 365, Price: decimal.RequireFromString(DefaultSubscriptionAnnual)},
	}
}

// GetConfig reads the config from environment variables.
// Unset variables take their default value.
func GetConfig() (Config, error) {
	config := Config{
		Host:               getEnv("POS_HOST", "127.0.0.1"),
		Port:               getEnv("POS_PORT", "8080"),
		DataPath:           os.Getenv("POS_DATA_PATH"),
		SystemMerchantName: getEnv("SYSTEM_MERCHANT_NAME", DefaultSystemMerchantName),
		SystemMerchantCity: getEnv("SYSTEM_MERCHANT_CITY", DefaultSystemMerchantCity),
		PublicURL:          strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		QRScale:            qrimage.DefaultScale,
	}

	kind, err := promptpay.ParseIdentifierKind(getEnv("SYSTEM_PROMPTPAY_KIND", promptpay.Phone.String()))
	if err != nil {
		return Config{}, fmt.Errorf("SYSTEM_PROMPTPAY_KIND: %v", err)
	}
	config.SystemReceiver = Receiver{Id: getEnv("SYSTEM_PROMPTPAY_ID", DefaultSystemPromptPayId), Kind: kind}
	if _, err := promptpay.NormalizeIdentifier(config.SystemReceiver.Id, kind); err != nil {
		return Config{}, fmt.Errorf("SYSTEM_PROMPTPAY_ID: %v", err)
	}

	config.Plans = DefaultPlans()
	for code, env := range map[string]string{MonthlyPlan: "SUBSCRIPTION_MONTHLY", AnnualPlan: "SUBSCRIPTION_ANNUAL"} {
		priceStr := os.Getenv(env)
		if len(priceStr) == 0 {
			continue
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil || !price.IsPositive() {
			return Config{}, fmt.Errorf("invalid %v: '%v'", env, priceStr)
		}
		plan := config.Plans[code]
		plan.Price = price
		config.Plans[code] = plan
	}

	if scaleStr := os.Getenv("QR_SCALE"); len(scaleStr) > 0 {
		scale, err := strconv.Atoi(scaleStr)
		if err != nil || scale <= 0 {
			return Config{}, fmt.Errorf("invalid QR_SCALE: '%v'", scaleStr)
		}
		config.QRScale = scale
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "", "info":
		config.LogLevel = Info
	case "debug":
		config.LogLevel = Debug
	case "disable":
		config.LogLevel = Disable
	default:
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: '%v'", os.Getenv("LOG_LEVEL"))
	}

	return config, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); len(value) > 0 {
		return value
	}
	return fallback
}
