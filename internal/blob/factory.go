package blob

import (
	"context"
	"fmt"
	"os"

	"autoinsight/internal/infra/blob/fs"
	memorystore "autoinsight/internal/infra/blob/memory"
	infraS3 "autoinsight/internal/infra/blob/s3"
)

// Open selects a blob.Store implementation using environment variables.
//
//	AUTOINSIGHT_BLOB_DRIVER: fs|s3|memory (default fs)
//	AUTOINSIGHT_BLOB_FS_ROOT: directory root when driver=fs (default ./artifacts)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("AUTOINSIGHT_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(os.Getenv("AUTOINSIGHT_BLOB_FS_ROOT"))
	case DriverS3:
		return infraS3.OpenFromEnv(ctx)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
