// Package secure keeps fetched secret values encrypted in memory.
//
// A Value wraps a memguard enclave. The plaintext exists only briefly while a
// caller is transforming or writing it; between uses it stays sealed, so a
// core dump taken mid-replication does not contain the source value.
//
//	v := secure.NewValue(secret.Value)
//	defer v.Destroy()
//
//	plain, err := v.Reveal()
//
// Memory locking depends on RLIMIT_MEMLOCK on Linux. When locking fails memguard
// falls back to ordinary memory; the value is still encrypted at rest.
//
// This does not protect against an attacker with access to the running process.
package secure
