package config

import "os"

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
}

func loadS3Config() *S3Config {
	return &S3Config{
		BucketName: os.Getenv("AWS_S3_BUCKET_NAME"),
		Region:     envOr("AWS_REGION", "us-east-1"),
		Endpoint:   os.Getenv("AWS_ENDPOINT"),
		AccessKey:  os.Getenv("AWS_ACCESS_KEY"),
		SecretKey:  os.Getenv("AWS_SECRET_KEY"),
	}
}
