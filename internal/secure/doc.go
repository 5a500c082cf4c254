// Package secure keeps encryption keys out of ordinary Go memory.
//
// Keys are held in memguard enclaves: encrypted at rest in memory, excluded
// from swap where the platform allows mlock, and wiped when destroyed.
// Plaintext is only exposed for the duration of a callback:
//
//	key, err := secure.NewKey(raw)
//	if err != nil {
//	    return err
//	}
//	defer key.Destroy()
//
//	err = key.Use(func(b []byte) error {
//	    block, err := aes.NewCipher(b)
//	    ...
//	})
//
// The slice passed to Use must not be retained after the callback returns.
//
// This does not protect against an attacker with access to the running
// process, nor against hardware-level attacks.
package secure
