package shared

import "fmt"

// ThresholdSweepLockKey builds the redis key guarding the periodic threshold sweep.
func ThresholdSweepLockKey() string {
	return "quartermast:jobs:threshold-sweep:lock"
}

// MinStockCacheKey builds the redis key caching a product's minimum stock level.
func MinStockCacheKey(productID int64) string {
	return fmt.Sprintf("quartermast:minstock:%d", productID)
}
