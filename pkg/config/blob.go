package config

import "time"

// BlobConfig configures pkg/blob, the content-addressed S3 gateway used for
// import/export JSONL files and robot enhancement batches.
type BlobConfig struct {
	// Bucket is the S3 bucket name blobs are stored under.
	Bucket string `yaml:"bucket"`

	// Region is the AWS region passed to the S3 client config.
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint, for S3-compatible stores in
	// development (e.g. MinIO). Empty uses the default AWS resolver.
	Endpoint string `yaml:"endpoint,omitempty"`

	// KeyPrefix namespaces every object key written by this deployment.
	KeyPrefix string `yaml:"key_prefix"`

	// UploadURLTTL is how long a pre-signed PUT URL handed to a robot
	// remains valid.
	UploadURLTTL time.Duration `yaml:"upload_url_ttl"`

	// DownloadURLTTL is how long a pre-signed GET URL handed to a robot
	// remains valid.
	DownloadURLTTL time.Duration `yaml:"download_url_ttl"`
}

// DefaultBlobConfig returns the built-in blob gateway defaults.
func DefaultBlobConfig() *BlobConfig {
	return &BlobConfig{
		KeyPrefix:      "destiny",
		UploadURLTTL:   15 * time.Minute,
		DownloadURLTTL: 15 * time.Minute,
	}
}
