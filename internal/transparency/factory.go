package transparency

import "os"

// NewClientFromEnv returns a RemoteClient targeting REKOR_URL when set,
// otherwise an OfflineClient writing to offlineLogPath. The audit
// service downgrades any RemoteClient failure to the offline sentinel at
// call time, so this factory never needs to probe reachability.
func NewClientFromEnv(offlineLogPath string) (Client, error) {
	if url := os.Getenv("REKOR_URL"); url != "" {
		return NewRemoteClient(url), nil
	}
	return NewOfflineClient(offlineLogPath)
}
