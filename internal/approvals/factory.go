package approvals

import "os"

// NewStoreFromEnv picks the memory or persistent backend per
// SWITCHBOARD_APPROVAL_BACKEND (default "memory"), mirroring the Python
// original's ApprovalStore construction gate.
func NewStoreFromEnv() (Store, error) {
	if os.Getenv("SWITCHBOARD_APPROVAL_BACKEND") != "persistent" {
		return NewMemoryStore(), nil
	}
	cfg := DatabaseConfigFromEnv()
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewPersistentStore(db, cfg.Dialect), nil
}
