// Package vault stores encrypted snapshots of metadata store documents.
package vault

import (
	"fmt"
	"regexp"
)

var storeIDRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// checkStoreID rejects ids that are unsafe as file names or object keys.
func checkStoreID(storeID string) error {
	if !storeIDRE.MatchString(storeID) || len(storeID) > 128 {
		return fmt.Errorf("invalid store id %q", storeID)
	}
	return nil
}
