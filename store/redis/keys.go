package redis

// Redis key naming conventions for stride data.
// All keys are prefixed with "stride:" to avoid collisions.

const keyPrefix = "stride:"

// ── Execution keys ──

// execKey returns the key for an execution entity: stride:exec:{id}
func execKey(id string) string { return keyPrefix + "exec:" + id }

// execIDsKey is the Set tracking all execution IDs for enumeration.
const execIDsKey = keyPrefix + "exec_ids"

// ── Step record keys ──

// recordKey returns the key for a step record: stride:record:{execID}:{step}
func recordKey(execID, step string) string {
	return keyPrefix + "record:" + execID + ":" + step
}

// recordIndexKey returns the Set key tracking step names for an execution.
func recordIndexKey(execID string) string {
	return keyPrefix + "record_idx:" + execID
}

// ── Callback keys ──

// callbackKey returns the key for a callback entity: stride:cb:{id}
func callbackKey(id string) string { return keyPrefix + "cb:" + id }

// callbackIndexKey returns the Set key tracking callback IDs for an execution.
func callbackIndexKey(execID string) string {
	return keyPrefix + "cb_idx:" + execID
}

// callbackExpiryKey is the Sorted Set of waiting callback IDs scored by
// expiry (unix milliseconds).
const callbackExpiryKey = keyPrefix + "cb_expiry"
