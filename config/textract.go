package config

import "os"

// TextractConfig configures the OCR strategy. Enabled is false unless
// TEXTRACT_ENABLED is set, in which case ocr-pdf jobs call AWS.
type TextractConfig struct {
	Enabled   bool
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func loadTextractConfig() *TextractConfig {
	return &TextractConfig{
		Enabled:   os.Getenv("TEXTRACT_ENABLED") == "true",
		Region:    envOr("AWS_REGION", "us-east-1"),
		Endpoint:  os.Getenv("AWS_ENDPOINT"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
		SecretKey: os.Getenv("AWS_SECRET_KEY"),
	}
}
