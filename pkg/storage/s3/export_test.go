package s3

// NewWithClient exposes newWithClient to the external s3_test package.
var NewWithClient = newWithClient
