package config

// localSnapshotConfig only mirrors when a local minio endpoint is configured; the
// credentials default to the docker-compose values.
func localSnapshotConfig() SnapshotConfig {
	endpoint := getenv("SNAPSHOT_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = getenv("SNAPSHOT_S3_ENDPOINT")
	}
	return SnapshotConfig{
		Endpoint:  endpoint,
		Region:    firstNonEmpty(getenv("SNAPSHOT_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(getenv("SNAPSHOT_S3_ACCESS_KEY"), getenv("MINIO_ROOT_USER"), "goalcoach"),
		SecretKey: firstNonEmpty(getenv("SNAPSHOT_S3_SECRET_KEY"), getenv("MINIO_ROOT_PASSWORD"), "goalcoach123"),
		Bucket:    firstNonEmpty(getenv("SNAPSHOT_S3_BUCKET"), "goalcoach-snapshots"),
		Object:    getenv("SNAPSHOT_S3_OBJECT"),
		UseSSL:    false,
	}
}
