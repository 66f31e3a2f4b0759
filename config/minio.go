package config

import (
	"os"
	"strconv"
)

type MinioConfig struct {
	AccessKey  string
	SecretKey  string
	Endpoint   string
	UseSSL     bool
	Region     string
	BucketName string
}

func loadMinioConfig() *MinioConfig {
	useSSL, _ := strconv.ParseBool(os.Getenv("MINIO_USE_SSL"))
	return &MinioConfig{
		AccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		Endpoint:   os.Getenv("MINIO_ENDPOINT"),
		UseSSL:     useSSL,
		Region:     os.Getenv("MINIO_REGION"),
		BucketName: envOr("MINIO_BUCKET_NAME", "conversions"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
